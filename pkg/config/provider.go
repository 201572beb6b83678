package config

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/chrissnell/prodtimeline/internal/types"
)

// Default values applied by ApplyDefaults
const (
	DefaultTimezone      = "UTC"
	DefaultRefreshDelay  = time.Second
	DefaultChannel       = "local"
	DefaultSubjectPrefix = "prodtimeline.machine"
	DefaultListenAddr    = ":8080"
	DefaultStorageDriver = "sqlite"
	DefaultStorageDSN    = "file:prodtimeline.db?_pragma=busy_timeout(5000)"
	DefaultSimInterval   = 10 * time.Second
)

// Channel transports
const (
	ChannelLocal = "local"
	ChannelGRPC  = "grpc"
	ChannelNATS  = "nats"
)

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	// Get specific configuration sections
	GetShifts() ([]types.Shift, error)
	GetChannelConfig() (*ChannelData, error)
	GetServerConfig() (*ServerData, error)

	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete configuration structure
type ConfigData struct {
	Facility    FacilityData    `json:"facility"`
	Shifts      []types.Shift   `json:"shifts"`
	Refresh     RefreshData     `json:"refresh"`
	DataService DataServiceData `json:"data_service"`
	Channel     ChannelData     `json:"channel"`
	Server      ServerData      `json:"server"`
	Metrics     MetricsData     `json:"metrics"`
}

// FacilityData describes the plant the timelines belong to
type FacilityData struct {
	Name     string `json:"name,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// RefreshData configures corrective refreshes of views
type RefreshData struct {
	Delay time.Duration `json:"delay,omitempty"`
}

// DataServiceData points views at the REST data service
type DataServiceData struct {
	URL     string        `json:"url"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ChannelData selects and configures the push channel transport
type ChannelData struct {
	Transport     string `json:"transport"`
	Endpoint      string `json:"endpoint,omitempty"`
	NATSURL       string `json:"nats_url,omitempty"`
	SubjectPrefix string `json:"subject_prefix,omitempty"`
}

// ServerData configures the reference server
type ServerData struct {
	ListenAddr string        `json:"listen_addr,omitempty"`
	Storage    StorageData   `json:"storage"`
	Simulator  SimulatorData `json:"simulator"`
}

// StorageData holds the database connection of the reference server
type StorageData struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// SimulatorData configures the built-in production simulator
type SimulatorData struct {
	Enabled  bool          `json:"enabled"`
	Interval time.Duration `json:"interval,omitempty"`
	Machines []string      `json:"machines,omitempty"`
}

// MetricsData configures the Prometheus endpoint. An empty ListenAddr serves
// metrics on the main listener.
type MetricsData struct {
	ListenAddr string `json:"listen_addr,omitempty"`
}

// ApplyDefaults fills every unset field with its default
func (c *ConfigData) ApplyDefaults() {
	if c.Facility.Timezone == "" {
		c.Facility.Timezone = DefaultTimezone
	}
	if c.Refresh.Delay <= 0 {
		c.Refresh.Delay = DefaultRefreshDelay
	}
	if c.Channel.Transport == "" {
		c.Channel.Transport = DefaultChannel
	}
	if c.Channel.SubjectPrefix == "" {
		c.Channel.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.Storage.Driver == "" {
		c.Server.Storage.Driver = DefaultStorageDriver
	}
	if c.Server.Storage.DSN == "" && c.Server.Storage.Driver == DefaultStorageDriver {
		c.Server.Storage.DSN = DefaultStorageDSN
	}
	if c.Server.Simulator.Interval <= 0 {
		c.Server.Simulator.Interval = DefaultSimInterval
	}
}

// Validate checks the values ApplyDefaults cannot supply
func (c *ConfigData) Validate() error {
	if _, err := time.LoadLocation(c.Facility.Timezone); err != nil {
		return fmt.Errorf("facility timezone %q: %w", c.Facility.Timezone, err)
	}

	switch c.Channel.Transport {
	case ChannelLocal:
	case ChannelGRPC:
		if c.Channel.Endpoint == "" {
			return fmt.Errorf("channel transport grpc requires an endpoint")
		}
	case ChannelNATS:
		if c.Channel.NATSURL == "" {
			return fmt.Errorf("channel transport nats requires nats_url")
		}
	default:
		return fmt.Errorf("unknown channel transport %q", c.Channel.Transport)
	}

	switch c.Server.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Server.Storage.Driver)
	}
	if c.Server.Storage.DSN == "" {
		return fmt.Errorf("storage driver %s requires a dsn", c.Server.Storage.Driver)
	}

	seen := make(map[string]bool)
	for _, s := range c.Shifts {
		if s.Name == "" {
			return fmt.Errorf("shift without a name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate shift %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// Location returns the facility time zone
func (c *ConfigData) Location() *time.Location {
	loc, err := time.LoadLocation(c.Facility.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

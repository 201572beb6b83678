package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/chrissnell/prodtimeline/internal/types"
)

// YAMLProvider implements ConfigProvider for YAML configuration files
type YAMLProvider struct {
	filename string
	config   *ConfigData
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// Filename returns the file the provider reads
func (y *YAMLProvider) Filename() string {
	return y.filename
}

// LoadConfig loads the complete configuration from YAML file. Defaults are
// applied and the result is validated.
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}

	config, err := ParseYAML(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", y.filename, err)
	}

	y.config = config
	return config, nil
}

// ParseYAML converts a YAML document into ConfigData
func ParseYAML(b []byte) (*ConfigData, error) {
	// Load into temporary struct with YAML tags
	var yamlConfig ConfigYAML
	if err := yaml.Unmarshal(b, &yamlConfig); err != nil {
		return nil, err
	}

	config := &ConfigData{
		Facility: FacilityData{
			Name:     yamlConfig.Facility.Name,
			Timezone: yamlConfig.Facility.Timezone,
		},
		DataService: DataServiceData{
			URL: yamlConfig.DataService.URL,
		},
		Channel: ChannelData{
			Transport:     yamlConfig.Channel.Transport,
			Endpoint:      yamlConfig.Channel.Endpoint,
			NATSURL:       yamlConfig.Channel.NATSURL,
			SubjectPrefix: yamlConfig.Channel.SubjectPrefix,
		},
		Server: ServerData{
			ListenAddr: yamlConfig.Server.ListenAddr,
			Storage: StorageData{
				Driver: yamlConfig.Server.Storage.Driver,
				DSN:    yamlConfig.Server.Storage.DSN,
			},
			Simulator: SimulatorData{
				Enabled:  yamlConfig.Server.Simulator.Enabled,
				Machines: yamlConfig.Server.Simulator.Machines,
			},
		},
		Metrics: MetricsData{
			ListenAddr: yamlConfig.Metrics.ListenAddr,
		},
	}

	var err error
	if config.Refresh.Delay, err = parseDuration("refresh.delay", yamlConfig.Refresh.Delay); err != nil {
		return nil, err
	}
	if config.DataService.Timeout, err = parseDuration("data-service.timeout", yamlConfig.DataService.Timeout); err != nil {
		return nil, err
	}
	if config.Server.Simulator.Interval, err = parseDuration("server.simulator.interval", yamlConfig.Server.Simulator.Interval); err != nil {
		return nil, err
	}

	// Convert shifts
	for _, s := range yamlConfig.Shifts {
		start, err := types.ParseTimeOfDay(s.Start)
		if err != nil {
			return nil, fmt.Errorf("shift %q: %w", s.Name, err)
		}
		end, err := types.ParseTimeOfDay(s.End)
		if err != nil {
			return nil, fmt.Errorf("shift %q: %w", s.Name, err)
		}
		active := true
		if s.Active != nil {
			active = *s.Active
		}
		config.Shifts = append(config.Shifts, types.Shift{
			Name:      s.Name,
			StartTime: start,
			EndTime:   end,
			IsActive:  active,
		})
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

func (y *YAMLProvider) loaded() (*ConfigData, error) {
	if y.config == nil {
		return y.LoadConfig()
	}
	return y.config, nil
}

// GetShifts returns the configured shifts
func (y *YAMLProvider) GetShifts() ([]types.Shift, error) {
	c, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return c.Shifts, nil
}

// GetChannelConfig returns the push channel configuration
func (y *YAMLProvider) GetChannelConfig() (*ChannelData, error) {
	c, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return &c.Channel, nil
}

// GetServerConfig returns the reference server configuration
func (y *YAMLProvider) GetServerConfig() (*ServerData, error) {
	c, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return &c.Server, nil
}

// IsReadOnly returns true since YAML files are read-only through this interface
func (y *YAMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for YAML provider
func (y *YAMLProvider) Close() error {
	return nil
}

// YAML-specific structs with proper YAML tags for parsing the file format
type ConfigYAML struct {
	Facility    FacilityYAML    `yaml:"facility"`
	Shifts      []ShiftYAML     `yaml:"shifts"`
	Refresh     RefreshYAML     `yaml:"refresh,omitempty"`
	DataService DataServiceYAML `yaml:"data-service"`
	Channel     ChannelYAML     `yaml:"channel,omitempty"`
	Server      ServerYAML      `yaml:"server,omitempty"`
	Metrics     MetricsYAML     `yaml:"metrics,omitempty"`
}

type FacilityYAML struct {
	Name     string `yaml:"name,omitempty"`
	Timezone string `yaml:"timezone,omitempty"`
}

type ShiftYAML struct {
	Name   string `yaml:"name"`
	Start  string `yaml:"start"`
	End    string `yaml:"end"`
	Active *bool  `yaml:"active,omitempty"`
}

type RefreshYAML struct {
	Delay string `yaml:"delay,omitempty"`
}

type DataServiceYAML struct {
	URL     string `yaml:"url"`
	Timeout string `yaml:"timeout,omitempty"`
}

type ChannelYAML struct {
	Transport     string `yaml:"transport,omitempty"`
	Endpoint      string `yaml:"endpoint,omitempty"`
	NATSURL       string `yaml:"nats-url,omitempty"`
	SubjectPrefix string `yaml:"subject-prefix,omitempty"`
}

type ServerYAML struct {
	ListenAddr string        `yaml:"listen-addr,omitempty"`
	Storage    StorageYAML   `yaml:"storage,omitempty"`
	Simulator  SimulatorYAML `yaml:"simulator,omitempty"`
}

type StorageYAML struct {
	Driver string `yaml:"driver,omitempty"`
	DSN    string `yaml:"dsn,omitempty"`
}

type SimulatorYAML struct {
	Enabled  bool     `yaml:"enabled,omitempty"`
	Interval string   `yaml:"interval,omitempty"`
	Machines []string `yaml:"machines,omitempty"`
}

type MetricsYAML struct {
	ListenAddr string `yaml:"listen-addr,omitempty"`
}

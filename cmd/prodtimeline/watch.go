package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chrissnell/prodtimeline/internal/channel"
	"github.com/chrissnell/prodtimeline/internal/dataservice"
	"github.com/chrissnell/prodtimeline/internal/log"
	"github.com/chrissnell/prodtimeline/internal/types"
	"github.com/chrissnell/prodtimeline/internal/view"
	"github.com/chrissnell/prodtimeline/pkg/config"
)

func newWatchCmd() *cobra.Command {
	var (
		machineID string
		days      int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow one machine's timeline and log every change",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watch(ctx, cfg, machineID, days, log.Named("watch"))
		},
	}
	cmd.Flags().StringVarP(&machineID, "machine", "m", "", "Machine to follow")
	cmd.Flags().IntVar(&days, "days", 1, "Number of days up to today to show")
	cmd.MarkFlagRequired("machine")
	return cmd
}

func watch(ctx context.Context, cfg *config.ConfigData, machineID string, days int, logger *zap.SugaredLogger) error {
	if cfg.DataService.URL == "" {
		return fmt.Errorf("data-service url is not configured")
	}
	tr, err := dialTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}
	conn := channel.NewConn(tr, channel.WithLogger(logger))
	defer conn.Close()

	clientOpts := []dataservice.ClientOption{dataservice.WithClientLogger(logger)}
	if cfg.DataService.Timeout > 0 {
		clientOpts = append(clientOpts, dataservice.WithHTTPClient(&http.Client{Timeout: cfg.DataService.Timeout}))
	}
	client := dataservice.NewClient(cfg.DataService.URL, clientOpts...)

	loc := cfg.Location()
	v := view.New(client, conn,
		view.WithLogger(logger),
		view.WithRefreshDelay(cfg.Refresh.Delay),
		view.WithLocation(loc),
		view.WithHooks(view.Hooks{
			OnChange: func(s view.Snapshot) { logSnapshot(logger, s, loc) },
			OnError: func(err error) {
				logger.Warnw("timeline read failed", "machine", machineID, "error", err)
			},
		}),
	)

	today := types.Today(loc)
	window := types.DateRange{Start: today.AddDays(-(days - 1)), End: today, Live: true}
	if err := v.Open(ctx, machineID, window); err != nil {
		v.Close(context.Background())
		return fmt.Errorf("opening %s: %w", machineID, err)
	}

	<-ctx.Done()
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return v.Close(closeCtx)
}

func logSnapshot(logger *zap.SugaredLogger, s view.Snapshot, loc *time.Location) {
	if s.Loading {
		return
	}
	sum := s.Summary()
	warnings := s.Warnings(time.Now(), loc)
	logger.Infow("timeline",
		"machine", s.Machine.Name,
		"state", s.State.Status,
		"window", s.Window.Start.String()+".."+s.Window.End.String(),
		"units", sum.UnitsProduced,
		"defects", sum.DefectiveUnits,
		"availability", fmt.Sprintf("%.1f%%", sum.Availability*100),
		"pending", sum.PendingStoppages,
		"warnings", len(warnings),
		"refreshPending", s.RefreshPending,
	)
	for _, w := range warnings {
		logger.Debugw("warning", "date", w.Date, "hour", w.Hour, "kind", w.Kind, "message", w.Message)
	}
}

// dialTransport connects the push channel. The local transport talks to the
// push service the data service host multiplexes next to its REST API.
func dialTransport(ctx context.Context, cfg *config.ConfigData, logger *zap.SugaredLogger) (channel.Transport, error) {
	switch cfg.Channel.Transport {
	case config.ChannelNATS:
		return channel.DialNATS(cfg.Channel.NATSURL, cfg.Channel.SubjectPrefix, logger)
	case config.ChannelGRPC:
		return channel.DialGRPC(ctx, cfg.Channel.Endpoint, logger)
	default:
		u, err := url.Parse(cfg.DataService.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing data-service url: %w", err)
		}
		return channel.DialGRPC(ctx, u.Host, logger)
	}
}

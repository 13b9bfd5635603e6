package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/hearth/internal/config"
	"github.com/friendsincode/hearth/internal/eventbus"
	"github.com/friendsincode/hearth/internal/events"
	"github.com/friendsincode/hearth/internal/models"
)

func newEventsCommand() *cobra.Command {
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Read the notification log",
	}
	eventsCmd.AddCommand(newEventsRecentCommand())
	eventsCmd.AddCommand(newEventsFollowCommand())
	return eventsCmd
}

func newEventsRecentCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recent events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("limit must be positive")
			}
			if err := loadConfig(); err != nil {
				return err
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			bus := events.NewBus(st, logger)
			defer bus.Close()
			recent, err := bus.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(recent) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No events recorded")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"Time", "Kind", "Title", "Item", "Detail"},
				buildEventRows(recent),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of events to show")
	return cmd
}

func newEventsFollowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "follow",
		Short: "Stream events from the configured relay until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			err := followRelay(ctx, cfg, func(ev models.Event) {
				writeEventLine(out, ev)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

// followRelay listens on the broker the daemon mirrors to. Without a relay
// there is nothing to follow from outside the daemon process.
func followRelay(ctx context.Context, c *config.Config, fn func(models.Event)) error {
	nodeID := eventbus.NodeID()

	switch c.Relay {
	case config.RelayRedis:
		rc := eventbus.DefaultRedisConfig()
		rc.Addr = c.RedisAddr
		rc.Password = c.RedisPassword
		rc.DB = c.RedisDB
		rc.Channel = c.RedisChannel
		relay := eventbus.NewRedisRelay(ctx, rc, nodeID, logger)
		defer relay.Close()
		return relay.Listen(ctx, true, fn)

	case config.RelayNATS:
		nc := eventbus.DefaultNATSConfig()
		nc.URL = c.NATSURL
		nc.Subject = c.NATSSubject
		relay, err := eventbus.NewNATSRelay(nc, nodeID, logger)
		if err != nil {
			return fmt.Errorf("connect nats relay: %w", err)
		}
		defer relay.Close()
		return relay.Listen(ctx, true, fn)

	default:
		return fmt.Errorf("no event relay configured (set HEARTH_RELAY to redis or nats)")
	}
}

func writeEventLine(w io.Writer, ev models.Event) {
	line := fmt.Sprintf("%s  %-8s %s", ev.CreatedAt.Local().Format(time.TimeOnly), ev.Kind, ev.Title)
	if ev.Detail != "" {
		line += " (" + ev.Detail + ")"
	}
	fmt.Fprintln(w, line)
}

func buildEventRows(list []models.Event) [][]string {
	rows := make([][]string, 0, len(list))
	for _, ev := range list {
		item := ""
		if ev.QueueItemID != nil {
			item = strconv.FormatInt(*ev.QueueItemID, 10)
		}
		rows = append(rows, []string{
			ev.CreatedAt.Local().Format(time.DateTime),
			ev.Kind,
			truncate(ev.Title, 60),
			item,
			truncate(ev.Detail, 50),
		})
	}
	return rows
}

func init() {
	rootCmd.AddCommand(newEventsCommand())
}

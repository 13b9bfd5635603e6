package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/friendsincode/hearth/internal/models"
	"github.com/friendsincode/hearth/internal/queue"
)

// withQueue opens the store for one offline command. The running daemon
// sees the changes on its next poll.
func withQueue(fn func(q *queue.Store) error) error {
	if err := loadConfig(); err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(queue.New(st, logger))
}

func newQueueCommand() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the playback queue",
	}
	queueCmd.AddCommand(newQueueAddCommand())
	queueCmd.AddCommand(newQueueListCommand())
	queueCmd.AddCommand(newQueueStatusCommand())
	queueCmd.AddCommand(newQueueRetryCommand())
	queueCmd.AddCommand(newQueueClearCommand())
	return queueCmd
}

func newQueueAddCommand() *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "add <url-or-path>",
		Short: "Append a source to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := strings.TrimSpace(args[0])
			if url == "" {
				return fmt.Errorf("url must not be empty")
			}
			return withQueue(func(q *queue.Store) error {
				item, err := q.Add(cmd.Context(), url, title)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued #%d (%s) %s\n", item.ID, item.SourceKind, item.DisplayTitle())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "Display title (resolved automatically when empty)")
	return cmd
}

func newQueueListCommand() *cobra.Command {
	var (
		pendingOnly bool
		failedOnly  bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items in play order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(func(q *queue.Store) error {
				var (
					items []models.QueueItem
					err   error
				)
				switch {
				case pendingOnly:
					items, err = q.ListPending(cmd.Context())
				case failedOnly:
					items, err = q.ListFailed(cmd.Context())
				default:
					items, err = q.List(cmd.Context())
				}
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Title", "Kind", "Status", "Errors", "Last error"},
					buildQueueListRows(items),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&pendingOnly, "pending", false, "Only pending items")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only failed items")
	cmd.MarkFlagsMutuallyExclusive("pending", "failed")
	return cmd
}

func newQueueStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show item counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(func(q *queue.Store) error {
				stats, err := q.Stats(cmd.Context())
				if err != nil {
					return err
				}
				rows := buildQueueStatusRows(stats)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newQueueRetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>...",
		Short: "Send failed items back to the end of the queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withQueue(func(q *queue.Store) error {
				for _, id := range ids {
					if err := q.RetryFailed(cmd.Context(), id); err != nil {
						return fmt.Errorf("retry #%d: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Item #%d requeued\n", id)
				}
				return nil
			})
		},
	}
}

func newQueueClearCommand() *cobra.Command {
	var (
		failed bool
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove finished items (played and skipped by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(func(q *queue.Store) error {
				var (
					n    int64
					err  error
					what string
				)
				switch {
				case all:
					n, err = q.ClearAll(cmd.Context())
					what = "items"
				case failed:
					n, err = q.ClearFailed(cmd.Context())
					what = "failed items"
				default:
					n, err = q.ClearPlayed(cmd.Context())
					what = "finished items"
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d %s\n", n, what)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&failed, "failed", false, "Remove failed items instead")
	cmd.Flags().BoolVar(&all, "all", false, "Remove every item, including pending ones")
	cmd.MarkFlagsMutuallyExclusive("failed", "all")
	return cmd
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimPrefix(arg, "#"), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid item id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func buildQueueListRows(items []models.QueueItem) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatInt(item.ID, 10),
			truncate(item.DisplayTitle(), 60),
			string(item.SourceKind),
			string(item.Status),
			strconv.Itoa(item.ErrorCount),
			truncate(item.LastError, 50),
		})
	}
	return rows
}

var statusOrder = []models.QueueStatus{
	models.QueueStatusPlaying,
	models.QueueStatusPending,
	models.QueueStatusPlayed,
	models.QueueStatusSkipped,
	models.QueueStatusFailed,
}

func buildQueueStatusRows(stats map[models.QueueStatus]int64) [][]string {
	var rows [][]string
	for _, status := range statusOrder {
		if n := stats[status]; n > 0 {
			rows = append(rows, []string{string(status), strconv.FormatInt(n, 10)})
		}
	}
	return rows
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	rootCmd.AddCommand(newQueueCommand())
}

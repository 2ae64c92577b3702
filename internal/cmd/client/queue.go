package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rvallejo/forq/internal/broker"
	"github.com/rvallejo/forq/internal/job"
	"github.com/rvallejo/forq/internal/monitor"
)

// NewQueueCommand builds the queue command group: enqueue, stats, jobs, list.
func NewQueueCommand(baseURL BaseURLFunc) *cobra.Command {
	queueCmd := &cobra.Command{Use: "queue", Short: "Queue operations"}
	queueCmd.AddCommand(newEnqueueCmd(baseURL))
	queueCmd.AddCommand(newStatsCmd(baseURL))
	queueCmd.AddCommand(newJobsCmd(baseURL))
	queueCmd.AddCommand(newListCmd(baseURL))
	return queueCmd
}

func newEnqueueCmd(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue <queue> <name>",
		Short: "Enqueue a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, _ := cmd.Flags().GetString("payload")
			dedupID, _ := cmd.Flags().GetString("id")
			maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
			delayMs, _ := cmd.Flags().GetInt64("delay-ms")
			backoff, _ := cmd.Flags().GetString("backoff")
			baseDelayMs, _ := cmd.Flags().GetInt64("backoff-base-ms")
			removeOnComplete, _ := cmd.Flags().GetBool("remove-on-complete")
			removeOnFail, _ := cmd.Flags().GetBool("remove-on-fail")

			if payload == "" {
				payload = "{}"
			}
			if !json.Valid([]byte(payload)) {
				return fmt.Errorf("--payload must be valid JSON")
			}

			req := map[string]any{
				"name":    args[1],
				"payload": json.RawMessage(payload),
				"options": job.Options{
					ID:               dedupID,
					MaxAttempts:      maxAttempts,
					DelayMs:          delayMs,
					Backoff:          job.Backoff{Kind: backoff, BaseDelayMs: baseDelayMs},
					RemoveOnComplete: removeOnComplete,
					RemoveOnFail:     removeOnFail,
				},
			}
			var resp struct {
				ID string `json:"id"`
			}
			if err := postJSON(baseURL(), "/v1/queues/"+args[0]+"/jobs", req, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.ID)
			return nil
		},
	}
	cmd.Flags().String("payload", "{}", "Job payload as JSON")
	cmd.Flags().String("id", "", "Dedup id; a repeat enqueue with the same id is a no-op")
	cmd.Flags().Int("max-attempts", 0, "Attempts before failed-terminal (default 3)")
	cmd.Flags().Int64("delay-ms", 0, "Initial delay before the job becomes claimable")
	cmd.Flags().String("backoff", "", "Retry backoff: fixed|exponential")
	cmd.Flags().Int64("backoff-base-ms", 0, "Base retry delay in ms")
	cmd.Flags().Bool("remove-on-complete", false, "Purge the record on success instead of archiving")
	cmd.Flags().Bool("remove-on-fail", false, "Purge the record on terminal failure")
	return cmd
}

func newStatsCmd(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <queue>",
		Short: "Show per-state counts for a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats monitor.QueueStats
			if err := getJSON(baseURL(), "/v1/queues/"+args[0]+"/stats", nil, &stats); err != nil {
				return err
			}
			printCounts(cmd, stats.Queue, stats.Counts)
			return nil
		},
	}
}

func newListCmd(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queues with their counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Queues []monitor.QueueStats `json:"queues"`
			}
			if err := getJSON(baseURL(), "/v1/queues", nil, &resp); err != nil {
				return err
			}
			for _, q := range resp.Queues {
				printCounts(cmd, q.Queue, q.Counts)
			}
			return nil
		},
	}
}

func newJobsCmd(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs <queue>",
		Short: "List job snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, _ := cmd.Flags().GetString("state")
			filter, _ := cmd.Flags().GetString("filter")
			limit, _ := cmd.Flags().GetInt("limit")

			query := url.Values{}
			if state != "" {
				query.Set("state", state)
			}
			if filter != "" {
				query.Set("filter", filter)
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}

			var resp struct {
				Jobs []monitor.JobView `json:"jobs"`
			}
			if err := getJSON(baseURL(), "/v1/queues/"+args[0]+"/jobs", query, &resp); err != nil {
				return err
			}
			for _, j := range resp.Jobs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-16s  %-16s  attempt %d/%d",
					j.ID, j.Name, j.State, j.Attempt, j.MaxAttempts)
				if j.LastError != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "  err=%q", j.LastError)
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
	cmd.Flags().String("state", "", "Filter by state: waiting|active|completed|failed-retryable|failed-terminal")
	cmd.Flags().String("filter", "", `CEL filter, e.g. 'name == "welcome" && attempt > 1'`)
	cmd.Flags().Int("limit", 0, "Max jobs to return")
	return cmd
}

func printCounts(cmd *cobra.Command, queue string, c broker.Counts) {
	fmt.Fprintf(cmd.OutOrStdout(),
		"%s: waiting=%d active=%d completed=%d retryable=%d terminal=%d oldest_waiting_ms=%d\n",
		queue, c.Waiting, c.Active, c.Completed, c.Retryable, c.Terminal, c.OldestWaitingAgeMs)
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/your-org/racephoto/internal/queue"
)

var dlqOpts struct {
	limit     int
	sequences []uint
	all       bool
}

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay dead-lettered pipeline messages",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List parked messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer producer.Close()

		letters, err := producer.DeadLetters(cmd.Context(), dlqOpts.limit)
		if err != nil {
			return err
		}
		if len(letters) == 0 {
			fmt.Println("Dead-letter queue is empty.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "SEQ\tSUBJECT\tDELIVERIES\tPARKED\tREASON")
		for _, dl := range letters {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				dl.Sequence, dl.Subject, dl.Deliveries, dl.DeadAt.Local().Format("2006-01-02 15:04"), dl.Reason)
		}
		return w.Flush()
	},
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Republish parked messages to their original subject",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !dlqOpts.all && len(dlqOpts.sequences) == 0 {
			return fmt.Errorf("pass --seq or --all")
		}
		ctx := cmd.Context()

		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer producer.Close()

		letters, err := producer.DeadLetters(ctx, dlqOpts.limit)
		if err != nil {
			return err
		}

		wanted := make(map[uint64]bool, len(dlqOpts.sequences))
		for _, s := range dlqOpts.sequences {
			wanted[uint64(s)] = true
		}

		replayed := 0
		for _, dl := range letters {
			if !dlqOpts.all && !wanted[dl.Sequence] {
				continue
			}
			if err := producer.Replay(ctx, dl); err != nil {
				return err
			}
			delete(wanted, dl.Sequence)
			replayed++
		}
		for s := range wanted {
			fmt.Fprintf(os.Stderr, "sequence %d not found\n", s)
		}
		fmt.Printf("Replayed %d message(s).\n", replayed)
		return nil
	},
}

func init() {
	dlqCmd.PersistentFlags().IntVar(&dlqOpts.limit, "limit", 100, "maximum number of messages to read")
	dlqReplayCmd.Flags().UintSliceVar(&dlqOpts.sequences, "seq", nil, "stream sequence to replay (repeatable)")
	dlqReplayCmd.Flags().BoolVar(&dlqOpts.all, "all", false, "replay every listed message")

	dlqCmd.AddCommand(dlqListCmd, dlqReplayCmd)
	rootCmd.AddCommand(dlqCmd)
}

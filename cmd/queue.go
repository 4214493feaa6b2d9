package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nekrassov01/instancebot/internal/config"
	"github.com/nekrassov01/instancebot/internal/queue"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the dispatch queue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending queue schema migrations",
		Run: func(cmd *cobra.Command, args []string) {
			q := openQueue()
			defer q.Close()
			fmt.Println("queue schema up to date")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "deadletters",
		Short: "List dead-lettered messages",
		Run: func(cmd *cobra.Command, args []string) {
			q := openQueue()
			defer q.Close()

			letters, err := q.DeadLetters(context.Background())
			if err != nil {
				fmt.Fprintf(os.Stderr, "list dead letters: %s\n", err)
				os.Exit(1)
			}
			if len(letters) == 0 {
				fmt.Println("no dead-lettered messages")
				return
			}
			for _, dl := range letters {
				fmt.Printf("%s  attempts=%d  event=%s  channel=%s\n  reason: %s\n",
					dl.FailedAt.Format("2006-01-02 15:04:05"),
					dl.Message.DeliveryAttempt,
					dl.Message.Event.EventID,
					dl.Message.Event.Channel,
					dl.Reason)
			}
		},
	})
	return cmd
}

// openQueue opens the configured queue database. Opening runs any
// pending migrations, so the migrate subcommand only needs this.
func openQueue() *queue.SQLiteQueue {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %s\n", err)
		os.Exit(1)
	}
	q, err := queue.OpenSQLite(config.ExpandHome(cfg.Queue.Path), cfg.Queue.EffectiveVisibilityTimeout())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open queue: %s\n", err)
		os.Exit(1)
	}
	return q
}

package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"TrancheBank/internal/notifier"
	"TrancheBank/internal/scheduler"
)

func ServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the phase watcher and the Telegram command bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Println("[INFO] TrancheBank starting...")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			// tx commands may run while serving; state is re-read under the lock instead
			a.release()

			var n notifier.Notifier
			var tn *notifier.TelegramNotifier
			if a.cfg.Telegram.BotToken != "" {
				tn = notifier.NewTelegramNotifier(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID, a.cfg.Proxy)
				n = tn
			} else {
				log.Println("[WARN] telegram.bot_token not set, notifications disabled")
				n = notifier.NewNoopNotifier()
			}

			// Context for graceful shutdown
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sched := scheduler.NewScheduler(ctx, a.bank, n, a.rec)
			sched.Refresh = a.refresh
			if err := sched.RegisterAll(a.cfg.Schedule.WatchCron, a.cfg.Schedule.ReportCron); err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()

			if tn != nil {
				go tn.StartPolling(ctx, sched.HandleCommand)
				log.Println("[INFO] Telegram polling started")
			}

			if os.Getenv("RUN_ON_START") == "true" {
				log.Println("[INFO] RUN_ON_START enabled, sending status report now")
				go sched.Report()
			}

			log.Println("[INFO] TrancheBank is running. Press Ctrl+C to stop.")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			log.Println("[INFO] shutdown signal received, stopping...")
			cancel()
			log.Println("[INFO] TrancheBank stopped")
			return nil
		},
	}
}

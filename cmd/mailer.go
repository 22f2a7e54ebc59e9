/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fileshare/apiserver/config"
	"github.com/fileshare/apiserver/internal/logging"
	"github.com/fileshare/apiserver/internal/mailer"
	"github.com/fileshare/apiserver/internal/mq"
	"github.com/spf13/cobra"
)

// mailerCmd drains the email queue and delivers messages over SMTP.
var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Deliver queued emails over SMTP",
	Long: `Consumes the email queue filled by the server when MAIL_TRANSPORT=queue
and delivers each message through the configured SMTP server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := logging.New(cfg.Log)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return fmt.Errorf("open message queue: %w", err)
		}
		defer queue.Close()

		delivery, err := mailer.NewSMTPMailer(cfg.Mail, logger)
		if err != nil {
			return err
		}
		if !delivery.Enabled() {
			logger.Warn("smtp is not configured; queued emails will be discarded")
		}

		return mailer.NewWorker(queue, cfg.Mail.Queue, delivery, logger).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mailerCmd)
}

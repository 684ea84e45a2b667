/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os/signal"
	"syscall"

	"github.com/makemny/apiserver/config"
	"github.com/makemny/apiserver/internal/logger"
	"github.com/makemny/apiserver/internal/mq"
	"github.com/makemny/apiserver/types"
	"github.com/spf13/cobra"
)

// eventsCmd groups deposit event tooling.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect deposit lifecycle events",
}

var eventsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Subscribe to the deposit event channel and log every event",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		log := logger.New(cfg.Env, cfg.LogLevel)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		broker, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		if broker == nil {
			return errors.New("MQ_BACKEND is not configured")
		}
		defer broker.Close()

		log.Info().Str("channel", cfg.MQ.Channel).Msg("watching deposit events")
		err = broker.Subscribe(ctx, cfg.MQ.Channel, func(_ context.Context, msg mq.Message) error {
			var event types.DepositEvent
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				// Undecodable payloads would be redelivered forever.
				log.Warn().Err(err).Str("message_id", msg.ID).Msg("skip malformed event")
				return nil
			}
			log.Info().
				Str("message_id", msg.ID).
				Str("type", string(event.Type)).
				Str("deposit_id", event.DepositID).
				Str("account_name", event.AccountName).
				Str("amount", event.Amount.String()).
				Str("status", string(event.Status)).
				Time("occurred_at", event.OccurredAt).
				Msg("deposit event")
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsWatchCmd)
}

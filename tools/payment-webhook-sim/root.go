package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	AppointmentID string
	Status        string
}

var statusEvents = map[string]string{
	"approved": "payment_intent.succeeded",
	"rejected": "payment_intent.payment_failed",
	"pending":  "payment_intent.processing",
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "payment-webhook-sim",
		Short: "Send simulated payment signals to the queue service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(opts.AppointmentID) == "" {
				return fmt.Errorf("--appointment is required")
			}
			if _, ok := statusEvents[opts.Status]; !ok {
				return fmt.Errorf("invalid --status %q: must be approved, rejected or pending", opts.Status)
			}
			return nil
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.AppointmentID, "appointment", getenv("APPOINTMENT_ID", ""), "appointment id carried in the payment metadata")
	cmd.PersistentFlags().StringVar(&opts.Status, "status", "approved", "payment outcome (approved|rejected|pending)")

	cmd.AddCommand(newStripeCommand(opts))
	cmd.AddCommand(newKafkaCommand(opts))
	return cmd
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

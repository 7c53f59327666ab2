package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/stripe/stripe-go/v79/webhook"
)

const webhookPath = "/api/v1/payments/webhooks/stripe"

type stripeOptions struct {
	*rootOptions
	BaseURL string
	Secret  string
	EventID string
}

func newStripeCommand(root *rootOptions) *cobra.Command {
	opts := &stripeOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "stripe",
		Short: "POST a signed Stripe payment_intent event to the webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(opts.Secret) == "" {
				return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
			}
			now := time.Now().UTC()
			if opts.EventID == "" {
				opts.EventID = fmt.Sprintf("evt_sim_%d", now.UnixNano())
			}
			payload, err := buildEvent(opts.EventID, statusEvents[opts.Status], opts.AppointmentID, now)
			if err != nil {
				return err
			}
			signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
				Payload:   payload,
				Secret:    opts.Secret,
				Timestamp: now,
				Scheme:    "v1",
			})

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, strings.TrimRight(opts.BaseURL, "/")+webhookPath, bytes.NewReader(payload))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Stripe-Signature", signed.Header)

			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "event=%s status=%d\n", opts.EventID, resp.StatusCode)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", getenv("BASE_URL", "http://localhost:8080"), "queue service base url")
	cmd.Flags().StringVar(&opts.Secret, "secret", getenv("STRIPE_WEBHOOK_SECRET", ""), "webhook signing secret (whsec_...)")
	cmd.Flags().StringVar(&opts.EventID, "event-id", "", "event id; reuse one to exercise replay protection")
	return cmd
}

func buildEvent(eventID, eventType, appointmentID string, t time.Time) ([]byte, error) {
	return json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     t.Unix(),
		"type":        eventType,
		"api_version": "2024-06-20",
		"data": map[string]any{
			"object": map[string]any{
				"id":     fmt.Sprintf("pi_sim_%d", t.UnixNano()),
				"object": "payment_intent",
				"metadata": map[string]any{
					"appointment_id": appointmentID,
				},
			},
		},
	})
}

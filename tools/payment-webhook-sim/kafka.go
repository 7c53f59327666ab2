package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/barberqueue/libs/kafkax"
)

type kafkaOptions struct {
	*rootOptions
	Brokers string
	Topic   string
}

type paymentStatus struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	Provider      string `json:"provider"`
	Reference     string `json:"reference"`
}

func newKafkaCommand(root *rootOptions) *cobra.Command {
	opts := &kafkaOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "kafka",
		Short: "Publish a payment status message for the queue consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			brokers := kafkax.SplitBrokers(opts.Brokers)
			if len(brokers) == 0 {
				return fmt.Errorf("KAFKA_BROKERS is required")
			}
			msg, err := paymentMessage(opts.AppointmentID, opts.Status)
			if err != nil {
				return err
			}
			w := &kafka.Writer{
				Addr:         kafka.TCP(brokers...),
				Topic:        opts.Topic,
				Balancer:     &kafka.Hash{},
				RequiredAcks: kafka.RequireAll,
				WriteTimeout: 10 * time.Second,
			}
			defer w.Close()
			if err := w.WriteMessages(cmd.Context(), msg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s to %s\n", kafkax.HeaderValue(msg.Headers, "event_id"), opts.Topic)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Brokers, "brokers", getenv("KAFKA_BROKERS", "localhost:9092"), "comma separated broker list")
	cmd.Flags().StringVar(&opts.Topic, "topic", getenv("KAFKA_PAYMENT_TOPIC", "payment.status.v1"), "payment status topic")
	return cmd
}

func paymentMessage(appointmentID, status string) (kafka.Message, error) {
	body, err := json.Marshal(paymentStatus{
		AppointmentID: strings.TrimSpace(appointmentID),
		Status:        status,
		Provider:      "simulator",
		Reference:     "sim_" + uuid.NewString(),
	})
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(appointmentID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(uuid.NewString())},
			{Key: "event_type", Value: []byte("payment.status." + status)},
		},
	}, nil
}

package kafkax

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// ReadyCheck dials the first reachable broker in the list.
func ReadyCheck(brokers []string) func(context.Context) error {
	return func(ctx context.Context) error {
		if len(brokers) == 0 {
			return errors.New("kafka brokers not configured")
		}
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		var err error
		for _, b := range brokers {
			var conn *kafka.Conn
			if conn, err = dialer.DialContext(ctx, "tcp", b); err == nil {
				return conn.Close()
			}
		}
		return err
	}
}

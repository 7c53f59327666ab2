// Command payment-webhook-sim drives the queue service's payment ingress
// locally: it signs Stripe-shaped webhook events or publishes payment status
// messages on Kafka.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

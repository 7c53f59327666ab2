package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/md-rashed-zaman/barberqueue/libs/kafkax"
)

func TestCommandPresence(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"stripe", "kafka"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestRootRejectsBadStatus(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"kafka", "--appointment", "a-1", "--status", "refunded"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --status")
}

func TestStripeCommandPostsVerifiableEvent(t *testing.T) {
	const secret = "whsec_sim"
	var got struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				Metadata map[string]string `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, webhookPath, r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		_, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), secret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"stripe", "--appointment", "a-1", "--status", "rejected",
		"--base-url", srv.URL, "--secret", secret, "--event-id", "evt_1"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "event=evt_1 status=200")
	assert.Equal(t, "payment_intent.payment_failed", got.Type)
	assert.Equal(t, "a-1", got.Data.Object.Metadata["appointment_id"])
}

func TestPaymentMessage(t *testing.T) {
	msg, err := paymentMessage("a-9", "approved")
	require.NoError(t, err)
	assert.Equal(t, "a-9", string(msg.Key))

	meta := kafkax.ExtractEventMeta(msg)
	assert.NotEmpty(t, meta.EventID)
	assert.Equal(t, "payment.status.approved", meta.EventType)

	var body paymentStatus
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "approved", body.Status)
	assert.Equal(t, "simulator", body.Provider)
}

func TestBuildEventIsStripeShaped(t *testing.T) {
	raw, err := buildEvent("evt_2", "payment_intent.succeeded", "a-2", time.Unix(1772445600, 0))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"appointment_id":"a-2"`)
	assert.Contains(t, string(raw), `"created":1772445600`)
}

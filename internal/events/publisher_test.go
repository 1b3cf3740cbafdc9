package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherWithoutWebhookOnlyLogs(t *testing.T) {
	pub := NewPublisher("test", "", nil)
	pub.Emit(Event{Type: TypeListingCreated, Attributes: map[string]string{"listingId": "1"}})
	require.Len(t, pub.queue, 0)
}

func TestPublisherDeliversToWebhook(t *testing.T) {
	received := make(chan Envelope, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, TypeItemPurchased, r.Header.Get("X-Event-Type"))
		var env Envelope
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		received <- env
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	pub := NewPublisher("escrow-test", server.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pub.Run(ctx)

	pub.Emit(Event{Type: TypeItemPurchased, Attributes: map[string]string{"purchaseId": "7"}})

	select {
	case env := <-received:
		require.Equal(t, "escrow-test", env.Source)
		require.Equal(t, "7", env.Data["purchaseId"])
		require.NotEmpty(t, env.EventID)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not called")
	}
}

func TestRecorderAndFanout(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	f := Fanout{a, nil, b}
	f.Emit(Event{Type: TypePaused})
	f.Emit(Event{Type: TypeUnpaused})

	require.Equal(t, []string{TypePaused, TypeUnpaused}, a.Types())
	require.Equal(t, a.Events(), b.Events())

	a.Reset()
	require.Empty(t, a.Events())
}

func TestMetricsCountsByType(t *testing.T) {
	before := testutil.ToFloat64(eventsEmitted.WithLabelValues(TypeListingCreated))
	Fanout{Metrics{}}.Emit(Event{Type: TypeListingCreated})
	require.Equal(t, before+1, testutil.ToFloat64(eventsEmitted.WithLabelValues(TypeListingCreated)))
}

package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAlerter struct {
	mu    sync.Mutex
	sent  []Alert
	fail  bool
}

func (r *recordingAlerter) Send(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("channel down")
	}
	r.sent = append(r.sent, a)
	return nil
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMultiAlerter_FansOutToAllChannels(t *testing.T) {
	t.Parallel()

	a := &recordingAlerter{}
	b := &recordingAlerter{}
	m := NewMultiAlerter(time.Minute, discardLogger(), a, b)

	err := m.Send(context.Background(), Alert{
		Type:  TypeSupplyMismatch,
		Token: "ACME",
		Title: "supply drift",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestMultiAlerter_CooldownSuppressesRepeats(t *testing.T) {
	t.Parallel()

	a := &recordingAlerter{}
	m := NewMultiAlerter(time.Hour, discardLogger(), a)
	ctx := context.Background()

	alert := Alert{Type: TypeSupplyMismatch, Token: "ACME", Title: "drift"}
	require.NoError(t, m.Send(ctx, alert))
	require.NoError(t, m.Send(ctx, alert))
	assert.Equal(t, 1, a.count())

	// Different token is a different cooldown key.
	other := Alert{Type: TypeSupplyMismatch, Token: "GLOB", Title: "drift"}
	require.NoError(t, m.Send(ctx, other))
	assert.Equal(t, 2, a.count())

	// Same token, different type also passes.
	down := Alert{Type: TypeStreamDown, Token: "ACME", Title: "stream down"}
	require.NoError(t, m.Send(ctx, down))
	assert.Equal(t, 3, a.count())
}

func TestMultiAlerter_ReturnsFirstChannelError(t *testing.T) {
	t.Parallel()

	bad := &recordingAlerter{fail: true}
	good := &recordingAlerter{}
	m := NewMultiAlerter(time.Minute, discardLogger(), bad, good)

	err := m.Send(context.Background(), Alert{Type: TypeRecovery, Token: "ACME"})
	require.Error(t, err)
	// The failing channel does not stop delivery to the others.
	assert.Equal(t, 1, good.count())
}

func TestWebhookAlerter_PostsJSONPayload(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhookAlerter(srv.URL)
	err := w.Send(context.Background(), Alert{
		Type:    TypeSupplyMismatch,
		Token:   "ACME",
		Title:   "supply drift",
		Message: "holder sum diverged from total supply",
		Fields:  map[string]string{"difference": "-500"},
	})
	require.NoError(t, err)

	assert.Equal(t, "SUPPLY_MISMATCH", got["type"])
	assert.Equal(t, "ACME", got["token"])
	assert.Equal(t, "supply drift", got["title"])
	fields, ok := got["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "-500", fields["difference"])
}

func TestWebhookAlerter_NonSuccessStatusIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhookAlerter(srv.URL)
	err := w.Send(context.Background(), Alert{Type: TypeStreamDown})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSlackAlerter_FormatsText(t *testing.T) {
	t.Parallel()

	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlackAlerter(srv.URL)
	err := s.Send(context.Background(), Alert{
		Type:    TypeSupplyMismatch,
		Token:   "ACME",
		Title:   "supply drift",
		Message: "details",
		Fields:  map[string]string{"expected": "1000"},
	})
	require.NoError(t, err)

	text := got["text"]
	assert.Contains(t, text, "SUPPLY_MISMATCH")
	assert.Contains(t, text, "ACME")
	assert.Contains(t, text, "expected")
}

func TestNoopAlerter(t *testing.T) {
	t.Parallel()
	var n NoopAlerter
	assert.NoError(t, n.Send(context.Background(), Alert{Type: TypeRecovery}))
}

package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Zernach/chainequity-sub000/internal/circuitbreaker"
	"github.com/Zernach/chainequity-sub000/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyPublisher struct {
	calls int
	err   error
}

func (f *flakyPublisher) Publish(_ context.Context, _ event.LedgerEvent) error {
	f.calls++
	return f.err
}

func TestBreakerPublisher_SkipsWhenOpen(t *testing.T) {
	t.Parallel()

	inner := &flakyPublisher{err: errors.New("stream down")}
	p := NewBreakerPublisher(inner, circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 2,
		OpenTimeout:      time.Hour,
	}))
	ctx := context.Background()
	ev := event.LedgerEvent{Type: event.TypeTokensMinted}

	require.Error(t, p.Publish(ctx, ev))
	require.Error(t, p.Publish(ctx, ev))
	assert.Equal(t, 2, inner.calls)

	// Breaker is open now: the inner publisher is not touched again.
	err := p.Publish(ctx, ev)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 2, inner.calls)
}

func TestBreakerPublisher_PassesThroughOnSuccess(t *testing.T) {
	t.Parallel()

	inner := &flakyPublisher{}
	p := NewBreakerPublisher(inner, circuitbreaker.New(circuitbreaker.Config{}))
	ev := event.LedgerEvent{Type: event.TypeTransferConfirmed}

	for i := 0; i < 10; i++ {
		require.NoError(t, p.Publish(context.Background(), ev))
	}
	assert.Equal(t, 10, inner.calls)
}

package ledger

import (
	"context"

	"github.com/Zernach/chainequity-sub000/internal/circuitbreaker"
	"github.com/Zernach/chainequity-sub000/internal/domain/event"
	"github.com/Zernach/chainequity-sub000/internal/metrics"
)

// BreakerPublisher wraps an EventPublisher with a circuit breaker so a down
// event stream is skipped outright instead of making every committed
// operation wait out the publish timeout.
type BreakerPublisher struct {
	inner   EventPublisher
	breaker *circuitbreaker.Breaker
}

func NewBreakerPublisher(inner EventPublisher, breaker *circuitbreaker.Breaker) *BreakerPublisher {
	return &BreakerPublisher{inner: inner, breaker: breaker}
}

func (p *BreakerPublisher) Publish(ctx context.Context, ev event.LedgerEvent) error {
	if err := p.breaker.Allow(); err != nil {
		return err
	}
	if err := p.inner.Publish(ctx, ev); err != nil {
		p.breaker.RecordFailure()
		metrics.StreamBreakerState.Set(float64(p.breaker.State()))
		return err
	}
	p.breaker.RecordSuccess()
	metrics.StreamBreakerState.Set(float64(p.breaker.State()))
	return nil
}

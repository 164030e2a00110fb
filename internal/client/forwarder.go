package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

var (
	forwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spectra_forward_total",
		Help: "Record batches forwarded to the Flight server, by result",
	}, []string{"result"})

	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spectra_forward_breaker_state",
		Help: "Forwarding circuit breaker state (0 closed, 1 open, 2 half-open)",
	})
)

// Putter uploads a record batch to a named dataset.
type Putter interface {
	DoPut(ctx context.Context, dataset string, record arrow.RecordBatch) error
}

// Forwarder sends processed batches downstream through a circuit breaker.
type Forwarder struct {
	putter  Putter
	breaker *CircuitBreaker
}

func NewForwarder(p Putter, breaker *CircuitBreaker) *Forwarder {
	return &Forwarder{putter: p, breaker: breaker}
}

// Forward uploads rec unless the breaker is open, in which case it fails
// fast with ErrCircuitOpen.
func (f *Forwarder) Forward(ctx context.Context, dataset string, rec arrow.RecordBatch) error {
	if !f.breaker.Allow() {
		forwarded.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: dropping batch for %q", ErrCircuitOpen, dataset)
	}

	if err := f.putter.DoPut(ctx, dataset, rec); err != nil {
		f.breaker.Failure()
		forwarded.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("dataset", dataset).Stringer("breaker", f.breaker.State()).Msg("Forwarding failed")
		return fmt.Errorf("forward to %q: %w", dataset, err)
	}

	f.breaker.Success()
	forwarded.WithLabelValues("ok").Inc()
	return nil
}

// Breaker exposes the forwarder's circuit breaker.
func (f *Forwarder) Breaker() *CircuitBreaker {
	return f.breaker
}

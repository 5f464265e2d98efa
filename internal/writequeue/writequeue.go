// Package writequeue implements the Durable Write Queue (spec.md §4.7 —
// Component G): an idempotent whole-snapshot writer for position state, an
// immediate path for trade-log inserts and new-position inserts, and a
// periodic dirty-flush sweep that acts as the eventual-consistency safety
// net when the hot path's channel is under backpressure. A position whose
// upsert fails during a flush is not re-marked dirty, so it is written again
// only once the machine marks it dirty again.
package writequeue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lseng/topstep-bot-5.0-sub000/internal/logging"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/position"
)

// Sink is the durable backend a Queue writes through; internal/store.Store
// satisfies it.
type Sink interface {
	UpsertPosition(ctx context.Context, p position.Position) error
	InsertTrade(ctx context.Context, t position.TradeResult) error
}

// DirtyProvider exposes one account's Machine dirty-position snapshot.
type DirtyProvider interface {
	DirtySnapshot() []position.Position
}

// Queue decouples Machine handlers from Postgres latency: StateChangeIntents
// are enqueued and written by a background worker, while trade-log inserts
// block briefly rather than ever being silently dropped.
type Queue struct {
	sink    Sink
	log     zerolog.Logger
	pending chan position.Position
	trades  chan position.TradeResult
	done    chan struct{}
}

// New builds a Queue with the given channel buffer size.
func New(sink Sink, bufferSize int, log zerolog.Logger) *Queue {
	return &Queue{
		sink:    sink,
		log:     logging.Component(log, "write_queue"),
		pending: make(chan position.Position, bufferSize),
		trades:  make(chan position.TradeResult, bufferSize),
		done:    make(chan struct{}),
	}
}

// Run starts the background writer. It returns once ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-q.pending:
			if err := q.sink.UpsertPosition(ctx, p); err != nil {
				q.log.Error().Err(err).Str("position_id", p.ID).
					Msg("upsert failed, periodic flush will retry")
			}
		case t := <-q.trades:
			if err := q.sink.InsertTrade(ctx, t); err != nil {
				q.log.Error().Err(err).Str("position_id", t.PositionID).Msg("trade insert failed")
			}
		}
	}
}

// Wait blocks until Run has returned.
func (q *Queue) Wait() { <-q.done }

// Submit routes the write-relevant intents from one Machine handler call
// onto the queue. Every other intent kind (orders, retries, ...) is the
// orchestrator's concern, not the write queue's.
func (q *Queue) Submit(intents []position.Intent) {
	for _, intent := range intents {
		switch it := intent.(type) {
		case position.StateChangeIntent:
			select {
			case q.pending <- it.Position:
			default:
				q.log.Warn().Str("position_id", it.Position.ID).
					Msg("write queue full, dropping state change; periodic flush will catch up")
			}
		case position.PositionClosedIntent:
			select {
			case q.trades <- it.Trade:
			case <-time.After(2 * time.Second):
				q.log.Error().Str("position_id", it.Trade.PositionID).
					Msg("trade log channel still full after timeout")
			}
		}
	}
}

// RunPeriodicFlush sweeps every provider's dirty positions on a fixed
// interval until ctx is cancelled (spec.md §4.7's periodic dirty-flush).
func (q *Queue) RunPeriodicFlush(ctx context.Context, interval time.Duration, providers []DirtyProvider) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Flush(ctx, providers)
		}
	}
}

// Flush exposes the periodic sweep's logic for a synchronous, one-shot
// drain on shutdown (spec.md §4.7: "A flush() method exposes the same
// logic for synchronous drain on shutdown").
func (q *Queue) Flush(ctx context.Context, providers []DirtyProvider) {
	for _, p := range providers {
		dirty := p.DirtySnapshot()
		if len(dirty) == 0 {
			continue
		}
		q.log.Debug().Int("count", len(dirty)).Msg("periodic flush")
		for _, pos := range dirty {
			if err := q.sink.UpsertPosition(ctx, pos); err != nil {
				q.log.Error().Err(err).Str("position_id", pos.ID).Msg("periodic flush upsert failed")
			}
		}
	}
}

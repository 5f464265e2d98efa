package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Source delivers alert records in creation order (spec.md §6: "a realtime
// INSERT-notification abstraction is sufficient").
type Source interface {
	// Alerts returns the channel new alerts arrive on. The channel is closed
	// when the source stops.
	Alerts() <-chan Alert
	Close() error
}

// ChanSource is an in-memory Source, used by the engine in dry-run mode:
// alerts are pushed onto it directly rather than received over a wire
// protocol.
type ChanSource struct {
	ch chan Alert
}

// NewChanSource creates a ChanSource with the given channel buffer size.
func NewChanSource(buffer int) *ChanSource {
	return &ChanSource{ch: make(chan Alert, buffer)}
}

func (s *ChanSource) Alerts() <-chan Alert { return s.ch }

// Push enqueues an alert. It blocks if the channel is full.
func (s *ChanSource) Push(a Alert) { s.ch <- a }

func (s *ChanSource) Close() error {
	close(s.ch)
	return nil
}

// PGSource listens on a Postgres channel via LISTEN/NOTIFY and decodes each
// notification payload as an Alert. This is the production implementation
// of the "realtime INSERT-notification abstraction" spec.md §6 calls for,
// grounded on the teacher's pgxpool usage in internal/database/db.go.
type PGSource struct {
	pool    *pgxpool.Pool
	channel string
	log     zerolog.Logger
	out     chan Alert
	cancel  context.CancelFunc
}

// NewPGSource starts listening on channel and returns a Source. Call Close
// to stop listening.
func NewPGSource(ctx context.Context, pool *pgxpool.Pool, channel string, log zerolog.Logger) (*PGSource, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgxIdent(channel)); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &PGSource{
		pool:    pool,
		channel: channel,
		log:     log,
		out:     make(chan Alert, 64),
		cancel:  cancel,
	}

	go func() {
		defer conn.Release()
		defer close(s.out)
		for {
			notification, err := conn.Conn().WaitForNotification(runCtx)
			if err != nil {
				if runCtx.Err() != nil {
					return
				}
				s.log.Warn().Err(err).Msg("alert listen: wait for notification failed")
				return
			}
			var a Alert
			if err := json.Unmarshal([]byte(notification.Payload), &a); err != nil {
				s.log.Warn().Err(err).Str("payload", notification.Payload).Msg("alert listen: malformed payload, dropping")
				continue
			}
			select {
			case s.out <- a:
			case <-runCtx.Done():
				return
			}
		}
	}()

	return s, nil
}

func (s *PGSource) Alerts() <-chan Alert { return s.out }

func (s *PGSource) Close() error {
	s.cancel()
	return nil
}

// pgxIdent quotes an identifier defensively; channel names here are
// operator-configured, not user input, but quoting costs nothing.
func pgxIdent(name string) string {
	return `"` + name + `"`
}

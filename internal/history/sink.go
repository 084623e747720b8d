package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"crm-voice/internal/calls"
)

// Repository is the append-only contract for call records.
// No Update/Delete methods are provided.
type Repository interface {
	Append(ctx context.Context, r Record) error
}

var ErrInvalidRecord = errors.New("history: invalid record")

// Sink turns ended sessions into records and writes them to every repository
// from a background worker. Writes are best-effort: a full queue drops the
// record and logs it.
type Sink struct {
	repos   []Repository
	log     *slog.Logger
	timeout time.Duration

	queue chan Record
	wg    sync.WaitGroup
	once  sync.Once
}

func NewSink(log *slog.Logger, queueSize int, repos ...Repository) *Sink {
	if log == nil {
		log = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	s := &Sink{repos: repos, log: log, timeout: 5 * time.Second, queue: make(chan Record, queueSize)}
	s.wg.Add(1)
	go s.run()
	return s
}

// ObserveSession implements calls.Observer.
func (s *Sink) ObserveSession(ev calls.Event, sess calls.Session) {
	if ev != calls.EventEnded {
		return
	}
	rec := FromSession(sess)
	if err := validate(rec); err != nil {
		s.log.Warn("history record rejected", "session_id", rec.SessionID, "err", err)
		return
	}
	select {
	case s.queue <- rec:
	default:
		s.log.Warn("history queue full, record dropped", "session_id", rec.SessionID, "tenant_id", rec.TenantID)
	}
}

// Close flushes queued records. The sink must not be observed afterwards.
func (s *Sink) Close() {
	s.once.Do(func() { close(s.queue) })
	s.wg.Wait()
}

func (s *Sink) run() {
	defer s.wg.Done()
	for rec := range s.queue {
		for _, repo := range s.repos {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			err := repo.Append(ctx, rec)
			cancel()
			if err != nil {
				s.log.Error("history append failed", "session_id", rec.SessionID, "tenant_id", rec.TenantID, "err", err)
			}
		}
	}
}

func validate(r Record) error {
	if r.SessionID == "" || r.TenantID == "" || r.EndReason == "" || r.EndedAt.IsZero() {
		return ErrInvalidRecord
	}
	return nil
}

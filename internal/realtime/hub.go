// Package realtime runs the signaling hub: one goroutine owns the connection
// registry, presence and the call session manager, and every websocket event
// is applied to them in turn.
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"crm-voice/internal/audit"
	"crm-voice/internal/calls"
	"crm-voice/internal/observability"
	"crm-voice/internal/presence"
	"crm-voice/internal/registry"
	"crm-voice/internal/signaling"
	"crm-voice/pkg/protocol"
)

var ErrHubStopped = errors.New("realtime: hub stopped")

type HubOptions struct {
	RingTimeout time.Duration
	// Limiter caps live calls per tenant. Nil disables the cap.
	Limiter calls.Limiter
	// Mirror copies presence edges out of process. Nil disables it.
	Mirror    presence.Mirror
	Metrics   *observability.Metrics
	Observers []calls.Observer
	Logger    *slog.Logger
	// Audit records refused connections and policy violations. Nil disables it.
	Audit *audit.Service
	// EventQueue bounds pending events; readers block when it is full.
	EventQueue int
}

type Hub struct {
	reg      *registry.Registry
	presence *presence.Broadcaster
	calls    *calls.Manager
	relay    *signaling.Relay
	limiter  calls.Limiter
	metrics  *observability.Metrics
	audit    *audit.Service
	log      *slog.Logger

	events   chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	bg       sync.WaitGroup

	// loop-owned
	clients map[string]*client
	slots   map[string]string // session id -> tenant holding a cap slot
}

func NewHub(opts HubOptions) *Hub {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.EventQueue <= 0 {
		opts.EventQueue = 1024
	}

	h := &Hub{
		reg:     registry.New(),
		limiter: opts.Limiter,
		metrics: opts.Metrics,
		audit:   opts.Audit,
		log:     log,
		events:  make(chan func(), opts.EventQueue),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		clients: make(map[string]*client),
		slots:   make(map[string]string),
	}
	h.presence = presence.NewBroadcaster(h.reg, opts.Mirror, log)

	observers := []calls.Observer{h}
	if opts.Metrics != nil {
		observers = append(observers, opts.Metrics)
	}
	observers = append(observers, opts.Observers...)

	h.calls = calls.NewManager(h.reg, calls.Options{
		RingTimeout: opts.RingTimeout,
		Scheduler:   loopScheduler{h},
		Observers:   observers,
		Logger:      log,
	})
	h.relay = signaling.NewRelay(h.reg, h.calls)

	go h.loop()
	return h
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case fn := <-h.events:
			h.apply(fn)
		case <-h.quit:
			return
		}
	}
}

// apply runs one event. A panic is contained to that event.
func (h *Hub) apply(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("panic recovered in hub event",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
	h.metrics.SetGauges(h.calls.ActiveCount(), h.reg.Count())
}

// Submit queues fn for the hub goroutine. It reports false once the hub stopped.
func (h *Hub) Submit(fn func()) bool {
	select {
	case <-h.quit:
		return false
	default:
	}
	select {
	case h.events <- fn:
		return true
	case <-h.quit:
		return false
	}
}

// Do runs fn on the hub goroutine and waits for it.
func (h *Hub) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !h.Submit(func() {
		defer close(finished)
		fn()
	}) {
		return ErrHubStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubStopped
	}
}

// Stop ends every live call with reason shutdown, closes every socket after
// flushing what was queued for it, and stops the loop.
func (h *Hub) Stop(ctx context.Context) error {
	var err error
	h.stopOnce.Do(func() {
		err = h.Do(ctx, func() {
			ended := h.calls.Shutdown()
			if len(ended) > 0 {
				h.log.Info("calls ended for shutdown", "count", len(ended))
			}
			for _, c := range h.clients {
				c.shutdown()
			}
		})
		close(h.quit)
		<-h.done
		h.presence.Close()

		waited := make(chan struct{})
		go func() {
			h.bg.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
		}
	})
	return err
}

// ObserveSession releases the tenant call slot of an ended session.
func (h *Hub) ObserveSession(ev calls.Event, s calls.Session) {
	if ev != calls.EventEnded {
		return
	}
	tenant, ok := h.slots[s.ID]
	if !ok {
		return
	}
	delete(h.slots, s.ID)
	h.releaseSlot(tenant)
}

func (h *Hub) releaseSlot(tenantID string) {
	if h.limiter == nil {
		return
	}
	h.bg.Add(1)
	go func() {
		defer h.bg.Done()
		h.releaseSlotNow(tenantID)
	}()
}

func (h *Hub) releaseSlotNow(tenantID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.limiter.Release(ctx, tenantID); err != nil {
		h.log.Warn("call slot release failed", "tenant_id", tenantID, "err", err)
	}
}

// reply sends a call-error to one connection.
func (h *Hub) reply(c *client, err error, sessionID string) {
	ce := protocol.ToCallError(err, sessionID)
	h.metrics.ObserveError(string(ce.Code))
	if ce.Code == protocol.CodeInternal {
		c.log.Error("event failed", "err", err, "session_id", sessionID)
	} else {
		c.log.Debug("event refused", "code", ce.Code, "err", err, "session_id", sessionID)
	}
	c.Send(protocol.New(protocol.TypeCallError, ce))
}

/* ===================== QUERIES ===================== */

func (h *Hub) OnlineAdmins(ctx context.Context, tenantID string, withIdentities bool) (protocol.OnlineAdmins, error) {
	var out protocol.OnlineAdmins
	err := h.Do(ctx, func() { out = h.presence.Snapshot(tenantID, withIdentities) })
	return out, err
}

func (h *Hub) ActiveCalls(ctx context.Context, tenantID string) ([]calls.Session, error) {
	var out []calls.Session
	err := h.Do(ctx, func() { out = h.calls.Active(tenantID) })
	return out, err
}

type Stats struct {
	Connections int `json:"connections"`
	Sessions    int `json:"sessions"`
}

func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := h.Do(ctx, func() {
		out = Stats{Connections: h.reg.Count(), Sessions: h.calls.ActiveCount()}
	})
	return out, err
}

// loopScheduler delivers timer callbacks through the hub so the session
// manager only ever runs on the hub goroutine.
type loopScheduler struct{ h *Hub }

func (s loopScheduler) AfterFunc(d time.Duration, f func()) calls.Timer {
	return time.AfterFunc(d, func() { s.h.Submit(f) })
}

package callclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"crm-voice/pkg/protocol"
)

// State is the local view of the current call.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateRinging    State = "ringing"
	StateIncoming   State = "incoming"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
)

// ReasonNegotiationFailed ends a call locally when the peer connection could
// not be set up or failed.
const ReasonNegotiationFailed = "negotiation-failed"

var (
	ErrBusy   = errors.New("callclient: a call is already in progress")
	ErrNoCall = errors.New("callclient: no call to act on")
	ErrClosed = errors.New("callclient: controller closed")
)

// Call describes the current call attempt.
type Call struct {
	SessionID        string
	PeerID           string
	PeerName         string
	PeerConnectionID string
	Role             protocol.NegotiationRole
	Muted            bool
	ConnectedAt      time.Time
}

// Handlers are optional callbacks. They run outside the controller lock and
// may call back into the controller.
type Handlers struct {
	OnRegistered      func(protocol.Registered)
	OnState           func(State)
	OnIncoming        func(protocol.IncomingCall)
	OnEnded           func(sessionID, reason string)
	OnError           func(protocol.CallError)
	OnConnectionState func(state string)
	OnDuration        func(time.Duration)
	OnOnlineAdmins    func(protocol.OnlineAdmins)
	OnPresence        func(online bool, p protocol.Presence)
}

type Options struct {
	Transport Transport
	Peers     PeerFactory
	Media     MediaSource
	Handlers  Handlers
	Logger    *slog.Logger
	// TickEvery is the duration counter period. Default 1s.
	TickEvery time.Duration
	Now       func() time.Time
}

type Controller struct {
	t     Transport
	peers PeerFactory
	media MediaSource
	h     Handlers
	log   *slog.Logger
	tick  time.Duration
	now   func() time.Time

	mu       sync.Mutex
	state    State
	connID   string
	call     Call
	incoming *protocol.IncomingCall
	res      *resources
	// gen invalidates peer callbacks from a previous call.
	gen    uint64
	closed bool
	// cancelRinging is set when the caller gave up before the server
	// assigned a session id.
	cancelRinging bool
	// abandoned holds sessions cancelled locally that the server may still
	// connect if an accept crossed the cancel. They are ended on sight.
	abandoned map[string]struct{}

	notes    []func()
	released []*resources
}

// resources are owned by exactly one call and released together.
type resources struct {
	peer       Peer
	track      LocalTrack
	stopTick   chan struct{}
	remoteSet  bool
	pendingICE []json.RawMessage
}

func (r *resources) release() error {
	var errs []error
	if r.stopTick != nil {
		close(r.stopTick)
	}
	if r.track != nil {
		errs = append(errs, r.track.Stop())
	}
	if r.peer != nil {
		errs = append(errs, r.peer.Close())
	}
	return errors.Join(errs...)
}

func New(opts Options) (*Controller, error) {
	if opts.Transport == nil || opts.Peers == nil || opts.Media == nil {
		return nil, errors.New("callclient: transport, peers and media are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TickEvery <= 0 {
		opts.TickEvery = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		t:     opts.Transport,
		peers: opts.Peers,
		media: opts.Media,
		h:     opts.Handlers,
		log:   opts.Logger,
		tick:  opts.TickEvery,
		now:   opts.Now,
		state: StateIdle,
	}, nil
}

/* ===================== ACCESSORS ===================== */

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Current() Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.call
}

// ConnectionID is the id assigned by the server on register.
func (c *Controller) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// Incoming is the call currently offered to this agent, if any.
func (c *Controller) Incoming() (protocol.IncomingCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.incoming == nil {
		return protocol.IncomingCall{}, false
	}
	return *c.incoming, true
}

/* ===================== COMMANDS ===================== */

func (c *Controller) Register(ctx context.Context, displayName string) error {
	return c.t.Send(ctx, protocol.New(protocol.TypeRegister, protocol.Register{DisplayName: displayName}))
}

func (c *Controller) RequestOnlineAdmins(ctx context.Context) error {
	return c.t.Send(ctx, protocol.New(protocol.TypeGetOnlineAdmins, nil))
}

// Call asks the server to ring the tenant's agents.
func (c *Controller) Call(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.unlock()
		return ErrClosed
	}
	if c.state != StateIdle {
		c.unlock()
		return ErrBusy
	}
	c.reset()
	c.cancelRinging = false
	c.setState(StateRequesting)
	err := c.t.Send(ctx, protocol.New(protocol.TypeCallRequest, protocol.CallRequest{}))
	if err != nil {
		c.setState(StateIdle)
	}
	c.unlock()
	return err
}

// Accept answers the call currently offered to this agent. The call only
// starts connecting once the server confirms the accept.
func (c *Controller) Accept(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIncoming || c.incoming == nil {
		c.unlock()
		return ErrNoCall
	}
	sid := c.incoming.SessionID
	c.unlock()
	return c.t.Send(ctx, protocol.New(protocol.TypeCallAccept, protocol.SessionRef{SessionID: sid}))
}

// Reject dismisses the offered call locally. Other agents keep ringing.
func (c *Controller) Reject(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIncoming || c.incoming == nil {
		c.unlock()
		return ErrNoCall
	}
	sid := c.incoming.SessionID
	c.incoming = nil
	c.setState(StateIdle)
	c.unlock()
	return c.t.Send(ctx, protocol.New(protocol.TypeCallReject, protocol.SessionRef{SessionID: sid}))
}

// Hangup cancels a ringing call or ends a live one. Local resources are
// released right away.
func (c *Controller) Hangup(ctx context.Context) error {
	c.mu.Lock()
	var msg protocol.Message
	switch c.state {
	case StateRequesting:
		c.cancelRinging = true
		c.end("", protocol.ReasonCancelled)
		c.unlock()
		return nil
	case StateRinging:
		msg = protocol.New(protocol.TypeCallCancel, protocol.SessionRef{SessionID: c.call.SessionID})
		c.abandon(c.call.SessionID)
		c.end(c.call.SessionID, protocol.ReasonCancelled)
	case StateConnecting, StateConnected:
		msg = protocol.New(protocol.TypeCallEnd, protocol.SessionRef{SessionID: c.call.SessionID})
		c.end(c.call.SessionID, protocol.ReasonHangup)
	default:
		c.unlock()
		return ErrNoCall
	}
	c.unlock()
	return c.t.Send(ctx, msg)
}

// SetMuted disables or enables the local outbound track only.
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	c.call.Muted = muted
	if c.res != nil && c.res.track != nil {
		c.res.track.SetEnabled(!muted)
	}
	c.unlock()
}

// Cleanup releases every resource of the current call and returns to idle.
// It is safe to call any number of times.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	c.reset()
	c.unlock()
}

// Close cleans up and closes the transport, which ends Run.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.reset()
	c.unlock()
	return c.t.Close()
}

/* ===================== EVENT LOOP ===================== */

// Run reads server frames until the transport fails or ctx is done. The
// current call is cleaned up on the way out.
func (c *Controller) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.t.Close()
		case <-stop:
		}
	}()

	defer c.Cleanup()
	for {
		env, err := c.t.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("callclient: receive: %w", err)
		}
		c.handle(ctx, env)
	}
}

func (c *Controller) handle(ctx context.Context, env protocol.Envelope) {
	c.mu.Lock()
	defer c.unlock()

	switch env.Type {
	case protocol.TypeRegistered:
		var p protocol.Registered
		if c.decode(env, &p) {
			c.connID = p.ConnectionID
			c.note(func() { callIf(c.h.OnRegistered, p) })
		}

	case protocol.TypeCallRinging:
		var p protocol.CallRinging
		if !c.decode(env, &p) {
			return
		}
		if c.state == StateRequesting {
			c.call.SessionID = p.SessionID
			c.setState(StateRinging)
			return
		}
		if c.cancelRinging {
			c.cancelRinging = false
			c.abandon(p.SessionID)
			c.send(ctx, protocol.New(protocol.TypeCallCancel, protocol.SessionRef{SessionID: p.SessionID}))
		}

	case protocol.TypeIncomingCall:
		var p protocol.IncomingCall
		if !c.decode(env, &p) || c.state != StateIdle {
			return
		}
		c.incoming = &p
		c.setState(StateIncoming)
		c.note(func() { callIf(c.h.OnIncoming, p) })

	case protocol.TypeCallTaken:
		var p protocol.CallTaken
		if c.decode(env, &p) {
			c.dropIncoming(p.SessionID)
		}

	case protocol.TypeCallCancelled:
		var p protocol.CallCancelled
		if !c.decode(env, &p) {
			return
		}
		c.dropIncoming(p.SessionID)
		delete(c.abandoned, p.SessionID)
		if c.call.SessionID == p.SessionID && c.state != StateIdle {
			c.end(p.SessionID, p.Reason)
		}

	case protocol.TypeCallConnected:
		var p protocol.CallConnected
		if !c.decode(env, &p) {
			return
		}
		c.incoming = nil
		c.detach()
		c.call = Call{SessionID: p.SessionID, PeerID: p.PeerID, PeerName: p.PeerName, PeerConnectionID: p.PeerConnectionID, Role: p.Role}
		c.connect(ctx)

	case protocol.TypeCallAccepted:
		var p protocol.CallAccepted
		if !c.decode(env, &p) {
			return
		}
		if c.endAbandoned(ctx, p.SessionID) {
			return
		}
		if c.state != StateRinging || c.call.SessionID != p.SessionID {
			return
		}
		c.call.PeerID = p.By
		c.call.PeerName = p.ByName
		c.call.PeerConnectionID = p.PeerConnectionID
		c.call.Role = p.Role
		c.connect(ctx)

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		var p protocol.Signal
		if c.decode(env, &p) {
			c.negotiate(ctx, env.Type, p)
		}

	case protocol.TypeCallEnded:
		var p protocol.CallEnded
		if !c.decode(env, &p) {
			return
		}
		c.dropIncoming(p.SessionID)
		delete(c.abandoned, p.SessionID)
		if c.call.SessionID == p.SessionID && c.state != StateIdle {
			c.end(p.SessionID, p.Reason)
		}

	case protocol.TypeCallError:
		var p protocol.CallError
		if !c.decode(env, &p) {
			return
		}
		if p.Code == protocol.CodeNoLongerAvailable && c.endAbandoned(ctx, p.SessionID) {
			// our cancel lost to an accept; the session is live on the server
			return
		}
		switch {
		case c.state == StateRequesting && p.SessionID == "":
			c.setState(StateIdle)
		case c.state == StateIncoming && c.incoming != nil && c.incoming.SessionID == p.SessionID:
			// lost the accept race or the call went away
			c.incoming = nil
			c.setState(StateIdle)
		}
		c.note(func() { callIf(c.h.OnError, p) })

	case protocol.TypeOnlineAdmins:
		var p protocol.OnlineAdmins
		if c.decode(env, &p) {
			c.note(func() { callIf(c.h.OnOnlineAdmins, p) })
		}

	case protocol.TypeUserOnline, protocol.TypeUserOffline:
		var p protocol.Presence
		if c.decode(env, &p) {
			online := env.Type == protocol.TypeUserOnline
			c.note(func() {
				if c.h.OnPresence != nil {
					c.h.OnPresence(online, p)
				}
			})
		}

	default:
		c.log.Debug("ignoring message", "type", env.Type)
	}
}

// connect enters connecting: media is acquired and the peer connection is
// created. The offerer sends its offer immediately.
func (c *Controller) connect(ctx context.Context) {
	c.setState(StateConnecting)
	c.gen++
	gen := c.gen
	sid, target := c.call.SessionID, c.call.PeerConnectionID

	res := &resources{}
	c.res = res

	track, err := c.media.Open()
	if err != nil {
		c.fail(ctx, "media", err)
		return
	}
	res.track = track
	track.SetEnabled(!c.call.Muted)

	peer, err := c.peers.NewPeer(track, PeerEvents{
		OnICECandidate: func(cand json.RawMessage) {
			c.localCandidate(gen, sid, target, cand)
		},
		OnConnectionState: func(state string) {
			c.peerState(gen, state)
		},
	})
	if err != nil {
		c.fail(ctx, "peer", err)
		return
	}
	res.peer = peer

	if c.call.Role != protocol.RoleOfferer {
		return
	}
	offer, err := peer.CreateOffer()
	if err != nil {
		c.fail(ctx, "offer", err)
		return
	}
	c.send(ctx, protocol.New(protocol.TypeOffer, protocol.Signal{SessionID: sid, TargetConnectionID: target, Payload: offer}))
}

func (c *Controller) negotiate(ctx context.Context, t protocol.Type, sig protocol.Signal) {
	res := c.res
	if res == nil || res.peer == nil || sig.SessionID != c.call.SessionID {
		return
	}
	switch t {
	case protocol.TypeOffer:
		answer, err := res.peer.AcceptOffer(sig.Payload)
		if err != nil {
			c.fail(ctx, "answer", err)
			return
		}
		res.remoteSet = true
		c.send(ctx, protocol.New(protocol.TypeAnswer, protocol.Signal{
			SessionID:          sig.SessionID,
			TargetConnectionID: c.call.PeerConnectionID,
			Payload:            answer,
		}))
		c.flushCandidates(res)

	case protocol.TypeAnswer:
		if err := res.peer.AcceptAnswer(sig.Payload); err != nil {
			c.fail(ctx, "answer", err)
			return
		}
		res.remoteSet = true
		c.flushCandidates(res)

	case protocol.TypeICECandidate:
		// candidates can overtake the description they belong to
		if !res.remoteSet {
			res.pendingICE = append(res.pendingICE, sig.Payload)
			return
		}
		if err := res.peer.AddICECandidate(sig.Payload); err != nil {
			c.log.Warn("remote candidate rejected", "session_id", sig.SessionID, "err", err)
		}
	}
}

func (c *Controller) flushCandidates(res *resources) {
	for _, cand := range res.pendingICE {
		if err := res.peer.AddICECandidate(cand); err != nil {
			c.log.Warn("queued candidate rejected", "session_id", c.call.SessionID, "err", err)
		}
	}
	res.pendingICE = nil
}

func (c *Controller) localCandidate(gen uint64, sid, target string, cand json.RawMessage) {
	c.mu.Lock()
	if gen != c.gen || c.res == nil {
		c.unlock()
		return
	}
	c.unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.t.Send(ctx, protocol.New(protocol.TypeICECandidate, protocol.Signal{SessionID: sid, TargetConnectionID: target, Payload: cand}))
	if err != nil {
		c.log.Warn("local candidate not sent", "session_id", sid, "err", err)
	}
}

func (c *Controller) peerState(gen uint64, state string) {
	c.mu.Lock()
	defer c.unlock()
	if gen != c.gen || c.res == nil {
		return
	}
	c.note(func() {
		if c.h.OnConnectionState != nil {
			c.h.OnConnectionState(state)
		}
	})

	switch state {
	case "connected":
		if c.state != StateConnecting {
			return
		}
		c.call.ConnectedAt = c.now()
		c.setState(StateConnected)
		c.startTicker(c.res, c.call.ConnectedAt)
	case "failed":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.fail(ctx, "connection", errors.New("peer connection failed"))
	}
}

func (c *Controller) startTicker(res *resources, start time.Time) {
	stop := make(chan struct{})
	res.stopTick = stop
	onTick := c.h.OnDuration
	go func() {
		t := time.NewTicker(c.tick)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				if onTick != nil {
					onTick(c.now().Sub(start).Truncate(time.Second))
				}
			}
		}
	}()
}

// fail tells the server the call is over and tears it down locally.
func (c *Controller) fail(ctx context.Context, stage string, err error) {
	sid := c.call.SessionID
	c.log.Warn("call setup failed", "stage", stage, "session_id", sid, "err", err)
	c.send(ctx, protocol.New(protocol.TypeCallEnd, protocol.SessionRef{SessionID: sid}))
	c.end(sid, ReasonNegotiationFailed)
}

/* ===================== LOCKED HELPERS ===================== */

// reset detaches the current call's resources and returns to idle. Must hold mu.
func (c *Controller) reset() {
	c.detach()
	c.gen++
	c.call = Call{}
	c.incoming = nil
	c.setState(StateIdle)
}

func (c *Controller) detach() {
	if c.res != nil {
		c.released = append(c.released, c.res)
		c.res = nil
	}
}

func (c *Controller) end(sessionID, reason string) {
	c.reset()
	c.note(func() {
		if c.h.OnEnded != nil {
			c.h.OnEnded(sessionID, reason)
		}
	})
}

func (c *Controller) dropIncoming(sessionID string) {
	if c.incoming == nil || c.incoming.SessionID != sessionID {
		return
	}
	c.incoming = nil
	if c.state == StateIncoming {
		c.setState(StateIdle)
	}
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.note(func() { callIf(c.h.OnState, s) })
}

func (c *Controller) abandon(sessionID string) {
	if sessionID == "" {
		return
	}
	if c.abandoned == nil {
		c.abandoned = make(map[string]struct{})
	}
	c.abandoned[sessionID] = struct{}{}
}

// endAbandoned sends call-end for a session the user already gave up on.
func (c *Controller) endAbandoned(ctx context.Context, sessionID string) bool {
	if _, ok := c.abandoned[sessionID]; !ok {
		return false
	}
	delete(c.abandoned, sessionID)
	c.send(ctx, protocol.New(protocol.TypeCallEnd, protocol.SessionRef{SessionID: sessionID}))
	return true
}

func (c *Controller) send(ctx context.Context, msg protocol.Message) {
	if err := c.t.Send(ctx, msg); err != nil {
		c.log.Warn("send failed", "type", msg.Type, "err", err)
	}
}

func (c *Controller) decode(env protocol.Envelope, out any) bool {
	if err := protocol.Decode(env, out); err != nil {
		c.log.Warn("bad server frame", "type", env.Type, "err", err)
		return false
	}
	return true
}

func (c *Controller) note(fn func()) { c.notes = append(c.notes, fn) }

// unlock releases mu, then closes detached resources and runs callbacks.
func (c *Controller) unlock() {
	notes, released := c.notes, c.released
	c.notes, c.released = nil, nil
	c.mu.Unlock()

	for _, r := range released {
		if err := r.release(); err != nil {
			c.log.Warn("call resources release failed", "err", err)
		}
	}
	for _, fn := range notes {
		fn()
	}
}

func callIf[T any](fn func(T), v T) {
	if fn != nil {
		fn(v)
	}
}

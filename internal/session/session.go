package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/coffersTech/attendance/internal/logging"
	"github.com/coffersTech/attendance/internal/model"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// Backend is the remote access-control service as seen by a session.
type Backend interface {
	Places(ctx context.Context) ([]model.Place, error)
	Devices(ctx context.Context, placeID string) ([]model.Device, error)
	Checkins(ctx context.Context, d model.QueryDescriptor) ([]model.CheckinEvent, error)
}

// Options tunes a Session.
type Options struct {
	// Location interprets the form's local datetimes. Default time.Local.
	Location *time.Location
	// Clock supplies the current instant. Default time.Now.
	Clock  func() time.Time
	Logger *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = logging.Log()
	}
	return o
}

type envelope struct {
	ev    Event
	reply chan State
}

// Session applies events to one State on a single goroutine and runs the
// resulting effects against the Backend.
type Session struct {
	id      string
	backend Backend
	opts    Options
	log     zerolog.Logger

	inbox  chan envelope
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	state   State
	changed chan struct{} // closed and replaced on every published state

	lastSeen atomic.Int64 // unix nanos
}

// New creates a session and starts loading the place catalog.
func New(id string, backend Backend, opts Options) *Session {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:      id,
		backend: backend,
		opts:    opts,
		log:     opts.Logger.With().Str("session", id).Logger(),
		inbox:   make(chan envelope, 16),
		ctx:     ctx,
		cancel:  cancel,
		state:   Initial(),
		changed: make(chan struct{}),
	}
	s.touch()

	s.wg.Add(1)
	go s.run()

	s.post(PlacesRequested{})
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the last published state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Send applies ev and returns the state right after it was reduced.
func (s *Session) Send(ctx context.Context, ev Event) (State, error) {
	s.touch()
	env := envelope{ev: ev, reply: make(chan State, 1)}

	select {
	case s.inbox <- env:
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-s.ctx.Done():
		return State{}, ErrClosed
	}

	select {
	case st := <-env.reply:
		return st, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-s.ctx.Done():
		return State{}, ErrClosed
	}
}

// Submit stamps a submit request with the session clock and location.
func (s *Session) Submit(ctx context.Context) (State, error) {
	return s.Send(ctx, SubmitRequested{Now: s.opts.Clock().In(s.opts.Location)})
}

// Wait blocks until the published state is newer than version.
func (s *Session) Wait(ctx context.Context, version uint64) (State, error) {
	for {
		s.mu.RLock()
		st, ch := s.state, s.changed
		s.mu.RUnlock()

		if st.Version > version {
			return st, nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		case <-s.ctx.Done():
			return st, ErrClosed
		}
	}
}

// Close stops the event loop and cancels any remote call in flight.
func (s *Session) Close() {
	s.cancel()
	s.wg.Wait()
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// post queues an event without waiting for it to be applied.
func (s *Session) post(ev Event) {
	select {
	case s.inbox <- envelope{ev: ev}:
	case <-s.ctx.Done():
	}
}

func (s *Session) run() {
	defer s.wg.Done()

	for {
		select {
		case env := <-s.inbox:
			s.apply(env)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) apply(env envelope) {
	s.mu.RLock()
	prev := s.state
	s.mu.RUnlock()

	next, effects := Reduce(prev, env.ev)

	s.mu.Lock()
	s.state = next
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	if env.reply != nil {
		env.reply <- next
	}

	for _, eff := range effects {
		s.start(eff)
	}
}

// start runs an effect on its own goroutine and posts its outcome back.
func (s *Session) start(eff Effect) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		begin := time.Now()
		var ev Event
		switch e := eff.(type) {
		case FetchPlaces:
			places, err := s.backend.Places(s.ctx)
			s.logOutcome("places", begin, err).Int("count", len(places)).Send()
			ev = PlacesResolved{Places: places, Err: err}
		case FetchDevices:
			devices, err := s.backend.Devices(s.ctx, e.PlaceID)
			s.logOutcome("devices", begin, err).Str("place", e.PlaceID).Int("count", len(devices)).Send()
			ev = DevicesResolved{PlaceID: e.PlaceID, Gen: e.Gen, Devices: devices, Err: err}
		case ExecuteQuery:
			events, err := s.backend.Checkins(s.ctx, e.Descriptor)
			s.logOutcome("checkins", begin, err).Str("place", e.Descriptor.PlaceID).Int("events", len(events)).Send()
			ev = SubmitResolved{Seq: e.Seq, Events: events, Err: err}
		default:
			return
		}

		if s.ctx.Err() != nil {
			return
		}
		s.post(ev)
	}()
}

func (s *Session) logOutcome(call string, begin time.Time, err error) *zerolog.Event {
	var e *zerolog.Event
	if err != nil {
		e = s.log.Warn().Err(err)
	} else {
		e = s.log.Debug()
	}
	return e.Str("call", call).Dur("took", time.Since(begin))
}

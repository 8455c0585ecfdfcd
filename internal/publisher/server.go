// internal/publisher/server.go
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tamzrod/bt-monitor/internal/blackboard"
	"github.com/tamzrod/bt-monitor/internal/breakpoint"
	btlog "github.com/tamzrod/bt-monitor/internal/log"
	"github.com/tamzrod/bt-monitor/internal/protocol"
	"github.com/tamzrod/bt-monitor/internal/status"
	"github.com/tamzrod/bt-monitor/internal/tree"
)

const (
	DefaultSendTimeout = time.Second

	// recvRetryDelay throttles the serve loop on a failing socket.
	recvRetryDelay = 100 * time.Millisecond
)

// Config is the per-server configuration.
type Config struct {
	// Port is the request/reply port. Port+1 carries notifications
	// and is reserved even when Notify is off.
	Port int

	// Heartbeat is the longest silence tolerated before every hook is
	// disabled. Zero turns the check off.
	Heartbeat time.Duration

	SendTimeout time.Duration

	// Notify binds the notification socket.
	Notify bool
}

type options struct {
	transport Transport
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Server.
type Option func(*options)

// WithTransport replaces the ZeroMQ transport.
func WithTransport(t Transport) Option {
	return func(o *options) { o.transport = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces time.Now for heartbeat, recording and transition stamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Server publishes one tree to remote debuggers.
//
// The engine drives it through OnStatusChange, PreTick and PostTick.
// The network side runs on its own goroutine.
type Server struct {
	cfg   Config
	ports *PortRegistry
	log   *slog.Logger
	now   func() time.Time
	label string

	treeID protocol.TreeID
	xml    string

	buffer   *status.Buffer
	hooks    *breakpoint.Registry
	dumper   *blackboard.Dumper
	recorder *status.Recorder

	conn   Conn
	notify Notifier

	// lastRequest holds the UnixNano of the most recent request.
	lastRequest atomic.Int64

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New claims cfg.Port and cfg.Port+1, binds the sockets and starts serving t.
// A port held by another live server fails with ErrPortInUse.
func New(ports *PortRegistry, t tree.Tree, cfg Config, opts ...Option) (*Server, error) {
	if ports == nil {
		return nil, errors.New("publisher: nil port registry")
	}

	o := options{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if o.transport == nil {
		o.transport = ZMQ{Timeout: cfg.SendTimeout}
	}

	if err := ports.Claim(cfg.Port); err != nil {
		return nil, err
	}
	claimed := true
	defer func() {
		if claimed {
			ports.Release(cfg.Port)
		}
	}()

	xml, err := t.XML()
	if err != nil {
		return nil, fmt.Errorf("publisher: tree xml: %w", err)
	}

	uids := tree.UIDs(t)
	buffer, err := status.NewBuffer(uids)
	if err != nil {
		return nil, fmt.Errorf("publisher: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		ports:    ports,
		log:      btlog.WithComponent(o.logger, "publisher").With(btlog.PortKey, cfg.Port),
		now:      o.now,
		label:    strconv.Itoa(cfg.Port),
		xml:      xml,
		buffer:   buffer,
		dumper:   blackboard.NewDumper(t.Subtrees()),
		recorder: status.NewRecorder(),
	}
	id := uuid.New()
	copy(s.treeID[:], id[:])
	s.hooks = breakpoint.NewRegistry(uids,
		breakpoint.WithReachedFunc(s.onReached),
		breakpoint.WithDroppedFunc(s.onDropped),
	)

	ctx, cancel := context.WithCancel(context.Background())

	conn, err := o.transport.ListenReply(ctx, cfg.Port)
	if err != nil {
		cancel()
		return nil, err
	}
	s.conn = conn

	if cfg.Notify {
		notify, err := o.transport.ListenNotify(ctx, cfg.Port+1)
		if err != nil {
			_ = conn.Close()
			cancel()
			return nil, err
		}
		s.notify = notify
	}

	s.cancel = cancel
	s.lastRequest.Store(s.now().UnixNano())
	heartbeatAlive.WithLabelValues(s.label).Set(1)
	hooksActive.WithLabelValues(s.label).Set(0)

	s.wg.Add(1)
	go s.serve(ctx)

	if cfg.Heartbeat > 0 {
		s.wg.Add(1)
		go s.watchHeartbeat(ctx)
	}

	claimed = false
	s.log.Info("publisher started",
		"tree_id", id.String(),
		"nodes", len(uids),
		"notify", cfg.Notify,
	)
	return s, nil
}

// TreeID identifies this server instance in every reply.
func (s *Server) TreeID() protocol.TreeID { return s.treeID }

func (s *Server) Port() int { return s.cfg.Port }

// Hooks exposes the breakpoint registry, e.g. to preload hooks.
func (s *Server) Hooks() *breakpoint.Registry { return s.hooks }

// Snapshot returns a copy of the status buffer.
func (s *Server) Snapshot() []byte { return s.buffer.Snapshot() }

// ---- Engine surface ----

// OnStatusChange is the single write path into the status buffer
// and the transition log.
func (s *Server) OnStatusChange(at time.Time, uid uint16, prev, next status.NodeStatus) {
	s.buffer.Update(uid, status.Exported(prev, next))
	s.recorder.Record(at, uid, next)
}

// PreTick is called before the node ticks.
// A result other than StatusIdle is forced on the node instead of ticking it.
func (s *Server) PreTick(ctx context.Context, uid uint16) status.NodeStatus {
	return s.hooks.OnNodeHit(ctx, breakpoint.Pre, uid)
}

// PostTick is called after the node ticks.
// A result other than StatusIdle overrides the node's own result.
func (s *Server) PostTick(ctx context.Context, uid uint16) status.NodeStatus {
	return s.hooks.OnNodeHit(ctx, breakpoint.Post, uid)
}

func (s *Server) onReached(ev breakpoint.Event) {
	mode := "auto"
	if ev.Interactive {
		mode = "interactive"
	}
	breakpointsReached.WithLabelValues(s.label, ev.Position.String(), mode).Inc()
	s.log.Debug("breakpoint reached", btlog.UIDKey, ev.NodeUID, "position", ev.Position.String(), "mode", mode)

	if s.notify == nil {
		return
	}
	hdr := protocol.EncodeRequestHeader(protocol.NewRequestHeader(protocol.KindBreakpointReached))
	frames := [][]byte{hdr[:], []byte(strconv.Itoa(int(ev.NodeUID)))}
	if err := s.notify.Publish(frames); err != nil {
		s.log.Warn("breakpoint notification failed", btlog.UIDKey, ev.NodeUID, "error", err)
	}
}

// onDropped runs on the execution goroutine once a used-up once hook is gone.
func (s *Server) onDropped(ev breakpoint.Event) {
	s.syncHookGauge()
	s.log.Debug("once hook removed", btlog.UIDKey, ev.NodeUID, "position", ev.Position.String())
}

// ---- Lifecycle ----

// Close releases every parked execution goroutine, stops the loops,
// closes the sockets and frees the ports. Safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()

		// the network side is gone, nothing can insert after this
		n := s.hooks.RemoveAll()
		hooksActive.WithLabelValues(s.label).Set(0)

		var errs []error
		if err := s.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		if s.notify != nil {
			if err := s.notify.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.ports.Release(s.cfg.Port)
		s.closeErr = errors.Join(errs...)

		s.log.Info("publisher stopped", "released_hooks", n)
	})
	return s.closeErr
}

// serve answers requests until ctx is done. Exactly one reply per request.
func (s *Server) serve(ctx context.Context) {
	defer s.wg.Done()

	for {
		frames, err := s.conn.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(recvRetryDelay):
			}
			continue
		}

		s.lastRequest.Store(s.now().UnixNano())

		reply := s.handle(frames)
		if err := s.conn.Send(reply); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("send failed", "error", err)
		}
	}
}

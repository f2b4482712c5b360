// Package session implements the WhatsApp session lifecycle: one durable,
// supervised connection per tenant.
//
// The Registry is the single writer for session state. Every transition is
// written through to the database before it becomes observable via Status,
// and every transition appends a row to the event log. Connections are
// obtained from an injected transport.Transport, so the same state machine
// drives the real WhatsApp adapter in production and the in-memory
// transport in tests.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/darckarchie/whalix-server/internal/config"
	"github.com/darckarchie/whalix-server/internal/domain"
	"github.com/darckarchie/whalix-server/internal/observability"
	"github.com/darckarchie/whalix-server/internal/repo"
	"github.com/darckarchie/whalix-server/internal/transport"
)

// Service-level sentinel errors, mapped to HTTP results by handlers.
var (
	// ErrNotConnected indicates there is no live, authorized connection
	// for the tenant.
	ErrNotConnected = errors.New("session not connected")

	// ErrSessionNotFound indicates the tenant has no session row at all.
	ErrSessionNotFound = errors.New("session not found")
)

// Store defines the persistence contract required by the Registry.
type Store interface {
	// GetSession fetches the single session row for a tenant.
	GetSession(ctx context.Context, db *gorm.DB, tenantID string) (*domain.Session, error)

	// EnsureSession returns the tenant's session row, creating an idle one
	// on first use.
	EnsureSession(ctx context.Context, db *gorm.DB, tenantID string) (*domain.Session, error)

	// UpdateSessionState applies a write-through state transition.
	UpdateSessionState(ctx context.Context, db *gorm.DB, tenantID string, f repo.SessionFields) error

	// AppendEvent records one audit/analytics event.
	AppendEvent(ctx context.Context, db *gorm.DB, tenantID string, typ domain.EventType, payload map[string]any) error
}

// Handler consumes inbound customer messages from connected sessions. The
// connection that received the message is passed along so replies go back
// through the same pairing.
type Handler interface {
	HandleMessage(ctx context.Context, tenantID string, conn transport.Conn, ev transport.MessageEvent)
}

// Registry owns all live sessions, keyed by tenant. It enforces the
// one-session-per-tenant invariant in memory; the unique index on the
// sessions table enforces it durably.
type Registry struct {
	// DB is the GORM handle used for write-through persistence.
	DB *gorm.DB
	// Store is the session persistence contract.
	Store Store
	// Transport opens per-tenant connections.
	Transport transport.Transport
	// Handler receives inbound messages; may be nil (messages are dropped).
	Handler Handler
	// Pairing holds the lifecycle timings (QR expiry, reconnect backoff).
	Pairing config.PairingConfig

	log zerolog.Logger

	mu     sync.Mutex
	active map[string]*liveSession
}

// liveSession is the in-memory side of one tenant's pairing: the current
// connection plus the cancel handle and done channel of its event loop.
type liveSession struct {
	tenantID  string
	conn      transport.Conn
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool
}

// NewRegistry constructs a Registry supervised by the given transport.
func NewRegistry(db *gorm.DB, st Store, tr transport.Transport, h Handler, pairing config.PairingConfig, log zerolog.Logger) *Registry {
	return &Registry{
		DB:        db,
		Store:     st,
		Transport: tr,
		Handler:   h,
		Pairing:   pairing,
		log:       log.With().Str("component", "session").Logger(),
		active:    map[string]*liveSession{},
	}
}

// Connect starts (or resumes) the tenant's pairing and returns the current
// session row. Calling Connect while a session is already live is a no-op
// that returns the current state, so clients can retry freely.
func (r *Registry) Connect(ctx context.Context, tenantID string) (*domain.Session, error) {
	r.mu.Lock()
	if _, ok := r.active[tenantID]; ok {
		r.mu.Unlock()
		return r.Store.GetSession(ctx, r.DB, tenantID)
	}
	r.mu.Unlock()

	created := false
	if _, err := r.Store.GetSession(ctx, r.DB, tenantID); errors.Is(err, repo.ErrNotFound) {
		created = true
	} else if err != nil {
		return nil, err
	}
	if _, err := r.Store.EnsureSession(ctx, r.DB, tenantID); err != nil {
		return nil, err
	}
	if created {
		r.appendEvent(ctx, tenantID, domain.EventSessionCreated, nil)
	}
	if err := r.transition(ctx, tenantID, repo.SessionFields{
		Status: domain.StatusConnecting,
	}); err != nil {
		return nil, err
	}

	// The connection outlives the HTTP request that started it.
	sctx, cancel := context.WithCancel(context.Background())
	conn, err := r.Transport.Dial(sctx, tenantID)
	if err != nil {
		cancel()
		r.fail(ctx, tenantID, err.Error())
		return nil, err
	}

	s := &liveSession{
		tenantID: tenantID,
		conn:     conn,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	r.mu.Lock()
	if _, ok := r.active[tenantID]; ok {
		// Lost the race to a concurrent Connect; yield to the winner.
		r.mu.Unlock()
		cancel()
		_ = conn.Close()
		return r.Store.GetSession(ctx, r.DB, tenantID)
	}
	r.active[tenantID] = s
	r.mu.Unlock()
	observability.SessionsLive.Inc()

	go r.run(sctx, s)

	r.log.Info().Str("tenant_id", tenantID).Msg("session connecting")
	return r.Store.GetSession(ctx, r.DB, tenantID)
}

// Disconnect unpairs and tears down the tenant's session. Disconnecting a
// tenant that is not live only marks the stored row disconnected; a tenant
// with no session row at all yields ErrSessionNotFound.
func (r *Registry) Disconnect(ctx context.Context, tenantID string) error {
	r.mu.Lock()
	s := r.active[tenantID]
	if s != nil {
		delete(r.active, tenantID)
		observability.SessionsLive.Dec()
	}
	r.mu.Unlock()

	if s == nil {
		if _, err := r.Store.GetSession(ctx, r.DB, tenantID); errors.Is(err, repo.ErrNotFound) {
			return ErrSessionNotFound
		} else if err != nil {
			return err
		}
		return r.transition(ctx, tenantID, repo.SessionFields{
			Status: domain.StatusDisconnected,
		})
	}

	if err := s.conn.Logout(ctx); err != nil {
		r.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("logout failed")
	}
	s.cancel()
	<-s.done

	if err := r.transition(ctx, tenantID, repo.SessionFields{
		Status: domain.StatusDisconnected,
	}); err != nil {
		return err
	}
	r.appendEvent(ctx, tenantID, domain.EventConnectionClosed, map[string]any{"reason": "logout"})
	r.log.Info().Str("tenant_id", tenantID).Msg("session disconnected")
	return nil
}

// Status returns the tenant's durable session row. Every transition is
// written through before it is observable, so the row is authoritative.
func (r *Registry) Status(ctx context.Context, tenantID string) (*domain.Session, error) {
	s, err := r.Store.GetSession(ctx, r.DB, tenantID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	return s, err
}

// Conn returns the live, authorized connection for a tenant, or
// ErrNotConnected. Used by the dispatcher for manual sends.
func (r *Registry) Conn(tenantID string) (transport.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.active[tenantID]
	if s == nil || !s.connected {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

// Shutdown closes every live session without unpairing, waiting for the
// event loops to drain. Used on server stop.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*liveSession, 0, len(r.active))
	for _, s := range r.active {
		sessions = append(sessions, s)
	}
	r.active = map[string]*liveSession{}
	observability.SessionsLive.Set(0)
	r.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
		select {
		case <-s.done:
		case <-ctx.Done():
			return
		}
	}
}

// remove drops the live entry iff it is still the registered one.
func (r *Registry) remove(s *liveSession) {
	r.mu.Lock()
	if r.active[s.tenantID] == s {
		delete(r.active, s.tenantID)
		observability.SessionsLive.Dec()
	}
	r.mu.Unlock()
}

func (r *Registry) setConnected(s *liveSession, v bool) {
	r.mu.Lock()
	s.connected = v
	r.mu.Unlock()
}

// transition applies a write-through state change, recording it in metrics.
func (r *Registry) transition(ctx context.Context, tenantID string, f repo.SessionFields) error {
	if err := r.Store.UpdateSessionState(ctx, r.DB, tenantID, f); err != nil {
		return err
	}
	observability.SessionTransitions.WithLabelValues(string(f.Status)).Inc()
	return nil
}

// setState is transition for callers inside the event loop, where a
// persistence failure is logged rather than propagated: the in-memory
// machine keeps running and the next transition retries the write.
func (r *Registry) setState(ctx context.Context, tenantID string, f repo.SessionFields) {
	if err := r.transition(ctx, tenantID, f); err != nil {
		r.log.Error().Err(err).Str("tenant_id", tenantID).Str("status", string(f.Status)).Msg("state write failed")
	}
}

// fail records an error-state transition.
func (r *Registry) fail(ctx context.Context, tenantID, msg string) {
	r.setState(ctx, tenantID, repo.SessionFields{
		Status:    domain.StatusError,
		LastError: msg,
	})
}

func (r *Registry) appendEvent(ctx context.Context, tenantID string, typ domain.EventType, payload map[string]any) {
	if err := r.Store.AppendEvent(ctx, r.DB, tenantID, typ, payload); err != nil {
		r.log.Error().Err(err).Str("tenant_id", tenantID).Str("type", string(typ)).Msg("event append failed")
	}
}

// pairingDeadline is how long a pairing may sit in qr_pending before it is
// declared expired.
func (r *Registry) pairingDeadline() time.Duration {
	return r.Pairing.QRPollInterval * time.Duration(r.Pairing.QRMaxAttempts)
}

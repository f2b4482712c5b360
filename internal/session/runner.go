package session

import (
	"context"
	"time"

	"github.com/darckarchie/whalix-server/internal/domain"
	"github.com/darckarchie/whalix-server/internal/repo"
	"github.com/darckarchie/whalix-server/internal/transport"
)

// run is the per-tenant supervisor: it drains connection events until the
// pairing ends, redialing after a backoff when the drop is recoverable.
// It owns the connection and the QR watchdog timer; both are released on
// every exit path.
func (r *Registry) run(ctx context.Context, s *liveSession) {
	defer close(s.done)
	defer r.remove(s)

	for {
		redial := r.pump(ctx, s)
		_ = s.conn.Close()
		r.setConnected(s, false)
		if !redial || ctx.Err() != nil {
			return
		}

		backoff := time.NewTimer(r.Pairing.ReconnectBackoff)
		select {
		case <-ctx.Done():
			backoff.Stop()
			return
		case <-backoff.C:
		}

		conn, err := r.Transport.Dial(ctx, s.tenantID)
		if err != nil {
			r.fail(ctx, s.tenantID, err.Error())
			return
		}
		r.mu.Lock()
		s.conn = conn
		r.mu.Unlock()
		r.setState(ctx, s.tenantID, repo.SessionFields{
			Status: domain.StatusConnecting,
		})
		r.log.Info().Str("tenant_id", s.tenantID).Msg("session redialing")
	}
}

// pump consumes one connection's event stream until it ends. The return
// value reports whether the supervisor should redial.
func (r *Registry) pump(ctx context.Context, s *liveSession) (redial bool) {
	// The watchdog is armed when the first QR code appears and fires if
	// the pairing is still unauthorized at the deadline.
	watchdog := time.NewTimer(r.pairingDeadline())
	if !watchdog.Stop() {
		<-watchdog.C
	}
	defer watchdog.Stop()
	qrShown := false

	for {
		select {
		case <-ctx.Done():
			return false

		case <-watchdog.C:
			r.log.Warn().Str("tenant_id", s.tenantID).Msg("pairing expired before scan")
			r.setState(ctx, s.tenantID, repo.SessionFields{
				Status:    domain.StatusError,
				LastError: "QR expired",
			})
			r.appendEvent(ctx, s.tenantID, domain.EventConnectionClosed, map[string]any{"reason": "qr_expired"})
			return false

		case ev, ok := <-s.conn.Events():
			if !ok {
				// Stream ended without a disconnect event: transport gave
				// up. Leave the row as-is only if already terminal.
				cur, err := r.Store.GetSession(ctx, r.DB, s.tenantID)
				if err == nil && !cur.Status.Terminal() {
					r.fail(ctx, s.tenantID, "connection closed")
				}
				return false
			}
			switch e := ev.(type) {
			case transport.QREvent:
				if !qrShown {
					qrShown = true
					watchdog.Reset(r.pairingDeadline())
				}
				r.setState(ctx, s.tenantID, repo.SessionFields{
					Status: domain.StatusQRPending,
					QRCode: e.Code,
				})
				r.appendEvent(ctx, s.tenantID, domain.EventQRGenerated, nil)

			case transport.ConnectedEvent:
				watchdog.Stop()
				if qrShown {
					qrShown = false
					r.appendEvent(ctx, s.tenantID, domain.EventQRScanned, nil)
				}
				r.setState(ctx, s.tenantID, repo.SessionFields{
					Status:      domain.StatusConnected,
					PhoneNumber: e.PhoneNumber,
					WaDeviceID:  e.DeviceID,
					Connected:   true,
				})
				r.setConnected(s, true)
				r.appendEvent(ctx, s.tenantID, domain.EventConnectionOpen, map[string]any{"phone": e.PhoneNumber})
				r.log.Info().Str("tenant_id", s.tenantID).Str("phone", e.PhoneNumber).Msg("session connected")

			case transport.DisconnectedEvent:
				watchdog.Stop()
				r.setConnected(s, false)
				r.setState(ctx, s.tenantID, repo.SessionFields{
					Status:    domain.StatusDisconnected,
					LastError: e.Reason,
				})
				r.appendEvent(ctx, s.tenantID, domain.EventConnectionClosed, map[string]any{
					"reason":      e.Reason,
					"recoverable": e.Recoverable,
				})
				r.log.Warn().Str("tenant_id", s.tenantID).Str("reason", e.Reason).Bool("recoverable", e.Recoverable).Msg("session dropped")
				return e.Recoverable

			case transport.MessageEvent:
				if r.Handler != nil {
					r.Handler.HandleMessage(ctx, s.tenantID, s.conn, e)
				}
			}
		}
	}
}

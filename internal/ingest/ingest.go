// Package ingest implements the inbound message pipeline: classify,
// persist, and decide whether to auto-reply.
//
// The pipeline is idempotent end to end. Persistence is keyed by the
// external message ID, so a replayed transport event is recognized and
// dropped before it can double-count or double-reply. Auto-replies are
// additionally throttled per tenant by a cooldown window; throttled and
// suppressed messages stay in the waiting state for a human operator.
package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/darckarchie/whalix-server/internal/dispatch"
	"github.com/darckarchie/whalix-server/internal/domain"
	"github.com/darckarchie/whalix-server/internal/intent"
	"github.com/darckarchie/whalix-server/internal/observability"
	"github.com/darckarchie/whalix-server/internal/repo"
	"github.com/darckarchie/whalix-server/internal/reply"
	"github.com/darckarchie/whalix-server/internal/transport"
)

// Store defines the persistence contract required by the Pipeline.
type Store interface {
	// GetOrCreateConversation upserts the per-customer thread.
	GetOrCreateConversation(ctx context.Context, db *gorm.DB, tenantID, customerPhone, customerName string) (*domain.Conversation, error)

	// CreateInbound persists one inbound message, rejecting replays with
	// repo.ErrDuplicate.
	CreateInbound(ctx context.Context, db *gorm.DB, in repo.InboundMessage) (*domain.Message, error)

	// BumpMessageCount increments the session's handled-message counter.
	BumpMessageCount(ctx context.Context, db *gorm.DB, tenantID string) error

	// GetSession fetches the tenant's session row (for the business phone).
	GetSession(ctx context.Context, db *gorm.DB, tenantID string) (*domain.Session, error)

	// ListKBItems loads the tenant's catalog for reply generation.
	ListKBItems(ctx context.Context, db *gorm.DB, tenantID string) ([]domain.KBItem, error)

	// AppendConversationEvent records one conversation-scoped event.
	AppendConversationEvent(ctx context.Context, db *gorm.DB, tenantID, conversationID string, typ domain.EventType, payload map[string]any) error
}

// Sender delivers generated replies. Implemented by dispatch.Dispatcher.
type Sender interface {
	Dispatch(ctx context.Context, conn transport.Conn, req dispatch.Request) (*domain.Message, error)
}

// Pipeline is the per-message ingestion flow. It is safe for concurrent
// use across tenants; messages of one tenant arrive sequentially from the
// session event loop.
type Pipeline struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Store is the ingestion persistence contract.
	Store Store
	// Generator renders the auto-reply for a classified message.
	Generator *reply.Generator
	// Sender delivers replies; nil disables auto-reply entirely.
	Sender Sender
	// Cooldown is the minimum gap between auto-replies per tenant.
	Cooldown time.Duration

	log zerolog.Logger

	mu        sync.Mutex
	lastReply map[string]time.Time
}

// NewPipeline constructs the ingestion pipeline.
func NewPipeline(db *gorm.DB, st Store, gen *reply.Generator, snd Sender, cooldown time.Duration, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		DB:        db,
		Store:     st,
		Generator: gen,
		Sender:    snd,
		Cooldown:  cooldown,
		log:       log.With().Str("component", "ingest").Logger(),
		lastReply: map[string]time.Time{},
	}
}

// HandleMessage runs the full pipeline for one inbound message. It never
// returns an error to the session loop: ingestion failures are logged and
// the message is left for a human.
func (p *Pipeline) HandleMessage(ctx context.Context, tenantID string, conn transport.Conn, ev transport.MessageEvent) {
	tr := otel.Tracer("ingest/Pipeline")
	ctx, span := tr.Start(ctx, "HandleMessage",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("message.id", ev.ID),
		),
	)
	defer span.End()

	body := strings.TrimSpace(ev.Body)
	if body == "" {
		return
	}

	topic, urgency := intent.Classify(body)

	conv, err := p.Store.GetOrCreateConversation(ctx, p.DB, tenantID, ev.FromPhone, ev.PushName)
	if err != nil {
		p.log.Error().Err(err).Str("tenant_id", tenantID).Msg("conversation upsert failed")
		return
	}

	msg, err := p.Store.CreateInbound(ctx, p.DB, repo.InboundMessage{
		TenantID:       tenantID,
		ConversationID: conv.ID,
		WaMsgID:        ev.ID,
		FromPhone:      ev.FromPhone,
		Body:           body,
		Intent:         string(urgency),
		Topic:          string(topic),
		ReceivedAt:     ev.Timestamp,
	})
	if errors.Is(err, repo.ErrDuplicate) {
		observability.MessagesDuplicate.Inc()
		p.log.Debug().Str("tenant_id", tenantID).Str("wa_msg_id", ev.ID).Msg("duplicate message dropped")
		return
	}
	if err != nil {
		p.log.Error().Err(err).Str("tenant_id", tenantID).Msg("message persist failed")
		return
	}
	observability.MessagesIngested.WithLabelValues(string(topic), string(urgency)).Inc()

	if err := p.Store.BumpMessageCount(ctx, p.DB, tenantID); err != nil {
		p.log.Error().Err(err).Str("tenant_id", tenantID).Msg("message count failed")
	}
	p.appendEvent(ctx, tenantID, conv.ID, domain.EventMessageReceived, map[string]any{
		"wa_msg_id": ev.ID,
		"topic":     string(topic),
		"intent":    string(urgency),
	})
	if urgency == intent.UrgencyHigh {
		p.appendEvent(ctx, tenantID, conv.ID, domain.EventIntentDetected, map[string]any{
			"wa_msg_id": ev.ID,
			"topic":     string(topic),
		})
	}

	if p.Sender == nil {
		return
	}
	if !p.takeReplySlot(tenantID) {
		observability.RepliesDispatched.WithLabelValues("throttled").Inc()
		p.log.Debug().Str("tenant_id", tenantID).Msg("auto-reply throttled")
		return
	}

	items, err := p.Store.ListKBItems(ctx, p.DB, tenantID)
	if err != nil {
		p.log.Error().Err(err).Str("tenant_id", tenantID).Msg("kb load failed")
		items = nil
	}
	rep := p.Generator.Generate(topic, items)
	if !rep.ShouldReply {
		observability.RepliesDispatched.WithLabelValues("suppressed").Inc()
		p.log.Debug().Str("tenant_id", tenantID).Float64("confidence", rep.Confidence).Msg("auto-reply suppressed")
		return
	}

	fromPhone := ""
	if sess, err := p.Store.GetSession(ctx, p.DB, tenantID); err == nil {
		fromPhone = sess.PhoneNumber
	}

	if _, err := p.Sender.Dispatch(ctx, conn, dispatch.Request{
		TenantID:       tenantID,
		ConversationID: conv.ID,
		InboundID:      msg.ID,
		FromPhone:      fromPhone,
		To:             ev.FromPhone,
		Text:           rep.Text,
		Confidence:     rep.Confidence,
	}); err != nil {
		observability.RepliesDispatched.WithLabelValues("failed").Inc()
		p.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("auto-reply dispatch failed")
		return
	}
	observability.RepliesDispatched.WithLabelValues("sent").Inc()
}

// takeReplySlot reserves the tenant's auto-reply slot if the cooldown has
// elapsed since the previous one.
func (p *Pipeline) takeReplySlot(tenantID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if last, ok := p.lastReply[tenantID]; ok && now.Sub(last) < p.Cooldown {
		return false
	}
	p.lastReply[tenantID] = now
	return true
}

func (p *Pipeline) appendEvent(ctx context.Context, tenantID, conversationID string, typ domain.EventType, payload map[string]any) {
	if err := p.Store.AppendConversationEvent(ctx, p.DB, tenantID, conversationID, typ, payload); err != nil {
		p.log.Error().Err(err).Str("tenant_id", tenantID).Str("type", string(typ)).Msg("event append failed")
	}
}

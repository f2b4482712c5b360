// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model, including the idempotent inbound insert the ingestion pipeline
// relies on.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/darckarchie/whalix-server/internal/domain"
)

// ErrDuplicate indicates that a row already exists for a unique tuple
// (e.g. the same wa_msg_id seen twice for one tenant).
var ErrDuplicate = errors.New("duplicate")

// isUniqueViolation recognizes unique-constraint failures across drivers.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}

// InboundMessage carries the canonical normalized record produced by the
// ingestion adapter.
type InboundMessage struct {
	TenantID       string
	ConversationID string
	WaMsgID        string
	FromPhone      string
	ToPhone        string
	Body           string
	Intent         string
	Topic          string
	ReceivedAt     time.Time
}

// CreateInbound inserts an inbound message row. It returns ErrDuplicate
// when the (tenant_id, wa_msg_id) tuple was already recorded, which is
// how replayed transport events become no-ops.
func CreateInbound(ctx context.Context, db *gorm.DB, in InboundMessage) (*domain.Message, error) {
	createdAt := in.ReceivedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	m := &domain.Message{
		ID:             uuid.NewString(),
		TenantID:       in.TenantID,
		ConversationID: in.ConversationID,
		WaMsgID:        in.WaMsgID,
		Direction:      domain.DirectionInbound,
		FromPhone:      in.FromPhone,
		ToPhone:        in.ToPhone,
		Body:           in.Body,
		Status:         domain.MessageWaiting,
		CreatedAt:      createdAt,
	}
	if in.Intent != "" {
		m.Intent = &in.Intent
	}
	if in.Topic != "" {
		m.Topic = &in.Topic
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return m, nil
}

// CreateOutbound inserts an outbound message row. AI-generated replies
// carry their confidence; operator sends carry neither.
func CreateOutbound(ctx context.Context, db *gorm.DB, tenantID, conversationID, fromPhone, toPhone, body string, ai bool, confidence float64) (*domain.Message, error) {
	m := &domain.Message{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		ConversationID: conversationID,
		WaMsgID:        uuid.NewString(),
		Direction:      domain.DirectionOutbound,
		FromPhone:      fromPhone,
		ToPhone:        toPhone,
		Body:           body,
		AIGenerated:    ai,
		Status:         domain.MessageHumanReplied,
		CreatedAt:      time.Now().UTC(),
	}
	if ai {
		m.AIConfidence = &confidence
		m.Status = domain.MessageAIReplied
	}
	return m, db.WithContext(ctx).Create(m).Error
}

// MarkReplied advances an inbound message from waiting to ai_replied.
// Only called after the reply was actually dispatched; a failed send
// leaves the row waiting for human follow-up.
func MarkReplied(ctx context.Context, db *gorm.DB, messageID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ? AND status = ?", messageID, domain.MessageWaiting).
		Update("status", domain.MessageAIReplied)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountMessages returns the number of messages in a conversation.
func CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered (CreatedAt ASC, ID ASC).
func ListMessagesPage(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// append-only Event log. Events are inserted and read, never updated or
// deleted.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/darckarchie/whalix-server/internal/domain"
)

// AppendEvent writes one audit/analytics row.
func AppendEvent(ctx context.Context, db *gorm.DB, tenantID string, typ domain.EventType, payload map[string]any) error {
	ev := &domain.Event{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Type:      typ,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(ev).Error
}

// AppendConversationEvent writes an event linked to a conversation.
func AppendConversationEvent(ctx context.Context, db *gorm.DB, tenantID, conversationID string, typ domain.EventType, payload map[string]any) error {
	ev := &domain.Event{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		ConversationID: &conversationID,
		Type:           typ,
		Payload:        payload,
		CreatedAt:      time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(ev).Error
}

// ListRecentEvents returns the newest events for a tenant, most recent
// first, capped by limit.
func ListRecentEvents(ctx context.Context, db *gorm.DB, tenantID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.Event
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountEvents returns the number of events of one type for a tenant.
// Used by tests and analytics aggregations.
func CountEvents(ctx context.Context, db *gorm.DB, tenantID string, typ domain.EventType) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Event{}).
		Where("tenant_id = ? AND type = ?", tenantID, typ).
		Count(&total).Error
	return total, err
}

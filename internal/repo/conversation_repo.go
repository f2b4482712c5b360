// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/darckarchie/whalix-server/internal/domain"
)

// GetOrCreateConversation returns the conversation for a tenant/customer
// pair, creating it on first contact. The customer display name and the
// last-message timestamp are refreshed on every call.
func GetOrCreateConversation(ctx context.Context, db *gorm.DB, tenantID, customerPhone, customerName string) (*domain.Conversation, error) {
	now := time.Now().UTC()

	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND customer_phone = ?", tenantID, customerPhone).
		First(&c).Error
	if err == nil {
		updates := map[string]any{"last_message_at": now}
		if customerName != "" && customerName != c.CustomerName {
			updates["customer_name"] = customerName
		}
		if uerr := db.WithContext(ctx).Model(&c).Updates(updates).Error; uerr != nil {
			return nil, uerr
		}
		c.LastMessageAt = now
		return &c, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	c = domain.Conversation{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		CustomerPhone: customerPhone,
		CustomerName:  customerName,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	if cerr := db.WithContext(ctx).Create(&c).Error; cerr != nil {
		// Lost a race with a concurrent insert for the same customer.
		if isUniqueViolation(cerr) {
			return GetOrCreateConversation(ctx, db, tenantID, customerPhone, customerName)
		}
		return nil, cerr
	}
	return &c, nil
}

// GetConversation fetches a conversation by ID scoped to its tenant.
func GetConversation(ctx context.Context, db *gorm.DB, tenantID, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CountConversations returns the total number of conversations for
// pagination.
func CountConversations(ctx context.Context, db *gorm.DB, tenantID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("tenant_id = ?", tenantID).
		Count(&total).Error
	return total, err
}

// ListConversationsPage returns a page of conversations ordered by most
// recent activity.
func ListConversationsPage(ctx context.Context, db *gorm.DB, tenantID string, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("last_message_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

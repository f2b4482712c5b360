// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the KBItem
// model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/darckarchie/whalix-server/internal/domain"
)

// ListKBItems returns all of a tenant's knowledge-base items, oldest
// first, so pricing replies list them in the order they were added.
func ListKBItems(ctx context.Context, db *gorm.DB, tenantID string) ([]domain.KBItem, error) {
	var out []domain.KBItem
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// ListAvailableKBItems returns only the items currently flagged
// available.
func ListAvailableKBItems(ctx context.Context, db *gorm.DB, tenantID string) ([]domain.KBItem, error) {
	var out []domain.KBItem
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND availability = ?", tenantID, true).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// CreateKBItem inserts a new knowledge-base item for a tenant.
func CreateKBItem(ctx context.Context, db *gorm.DB, item *domain.KBItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Currency == "" {
		item.Currency = "FCFA"
	}
	if item.Type == "" {
		item.Type = "product"
	}
	item.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(item).Error
}

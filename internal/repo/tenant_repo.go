// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Tenant
// model.
package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/darckarchie/whalix-server/internal/domain"
	"github.com/darckarchie/whalix-server/internal/phone"
)

// CreateTenant registers a new business. The phone number is normalized
// to E.164 (Ivorian numbering plan) before insert; a duplicate phone
// yields ErrDuplicate.
func CreateTenant(ctx context.Context, db *gorm.DB, name, sector, rawPhone string) (*domain.Tenant, error) {
	e164, err := phone.NormalizeCI(rawPhone)
	if err != nil {
		return nil, fmt.Errorf("normalize phone: %w", err)
	}
	t := &domain.Tenant{
		ID:       uuid.NewString(),
		Name:     strings.TrimSpace(name),
		Sector:   normalizeSector(sector),
		Phone:    e164,
		Currency: "FCFA",
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return t, nil
}

// GetTenant loads a tenant by ID. Returns ErrNotFound when absent.
func GetTenant(ctx context.Context, db *gorm.DB, tenantID string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := db.WithContext(ctx).Where("id = ?", tenantID).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTenantByPhone loads a tenant by its E.164 phone number.
func GetTenantByPhone(ctx context.Context, db *gorm.DB, e164 string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := db.WithContext(ctx).Where("phone = ?", e164).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func normalizeSector(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "restaurant", "commerce", "services", "hospitality":
		return strings.ToLower(strings.TrimSpace(s))
	default:
		return "restaurant"
	}
}

// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Session
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. The state machine itself lives in
// the session package; every transition it makes is written through here.
//
// Error semantics:
//   - When a session is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/darckarchie/whalix-server/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetSession fetches the single session row for a tenant, or ErrNotFound.
func GetSession(ctx context.Context, db *gorm.DB, tenantID string) (*domain.Session, error) {
	var s domain.Session
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// EnsureSession returns the tenant's session row, creating an idle one on
// first connect. At most one session exists per tenant (unique index).
func EnsureSession(ctx context.Context, db *gorm.DB, tenantID string) (*domain.Session, error) {
	if s, err := GetSession(ctx, db, tenantID); err == nil {
		return s, nil
	} else if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	s := &domain.Session{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Status:     domain.StatusIdle,
		LastSeenAt: time.Now().UTC(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// SessionFields carries the mutable transition fields written on every
// state change. Empty strings clear the corresponding columns so stale
// QR payloads and errors never outlive the state that produced them.
type SessionFields struct {
	Status      domain.SessionStatus
	QRCode      string
	PhoneNumber string
	WaDeviceID  string
	LastError   string
	Connected   bool // also stamp last_connected_at
}

// UpdateSessionState writes a state transition through to storage,
// refreshing last_seen_at. Returns ErrNotFound if the tenant has no
// session row.
func UpdateSessionState(ctx context.Context, db *gorm.DB, tenantID string, f SessionFields) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":       f.Status,
		"qr_code":      f.QRCode,
		"phone_number": f.PhoneNumber,
		"last_error":   f.LastError,
		"last_seen_at": now,
	}
	if f.WaDeviceID != "" {
		updates["wa_device_id"] = f.WaDeviceID
	}
	if f.Connected {
		updates["last_connected_at"] = now
	}
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("tenant_id = ?", tenantID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// BumpMessageCount increments the session's inbound message counter and
// refreshes last_seen_at.
func BumpMessageCount(ctx context.Context, db *gorm.DB, tenantID string) error {
	return db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]any{
			"message_count": gorm.Expr("message_count + 1"),
			"last_seen_at":  time.Now().UTC(),
		}).Error
}

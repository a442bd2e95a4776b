/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction defines the type of audited action.
type AuditAction string

// Audit action constants for booking and resource operations.
const (
	AuditActionBookingApprove  AuditAction = "booking.approve"
	AuditActionBookingReject   AuditAction = "booking.reject"
	AuditActionBookingCancel   AuditAction = "booking.cancel"
	AuditActionBookingComplete AuditAction = "booking.complete"
	AuditActionSweepRun        AuditAction = "sweep.run"
	AuditActionResourceCreate  AuditAction = "resource.create"
	AuditActionResourceUpdate  AuditAction = "resource.update"
	AuditActionResourceDelete  AuditAction = "resource.delete"
)

// AuditLog records booking decisions and resource changes for history
// and compliance.
type AuditLog struct {
	ID         string         `gorm:"type:uuid;primaryKey"`
	Timestamp  time.Time      `gorm:"index:idx_audit_timestamp;not null"`
	ActorID    *string        `gorm:"type:uuid;index:idx_audit_actor"` // NULL for system actions
	ResourceID *string        `gorm:"type:uuid;index:idx_audit_resource"`
	Action     AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null"`
	BookingID  string         `gorm:"type:uuid"`
	Details    map[string]any `gorm:"type:jsonb;serializer:json"`
	CreatedAt  time.Time
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}

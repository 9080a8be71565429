package model

import "time"

// AuditTag identifies the kind of audit event
type AuditTag string

const (
	AuditUserRegistered    AuditTag = "UserRegistered"
	AuditRecordCreated     AuditTag = "RecordCreated"
	AuditAccessGranted     AuditTag = "AccessGranted"
	AuditAccessRevoked     AuditTag = "AccessRevoked"
	AuditRecordDeactivated AuditTag = "RecordDeactivated"
)

// AuditEvent is emitted once per committed mutation. Seq equals the journal
// sequence of the transaction that produced it.
type AuditEvent struct {
	Seq       uint64    `json:"seq"`
	Tag       AuditTag  `json:"tag"`
	Principal Principal `json:"principal"`
	Patient   Principal `json:"patient,omitempty"`
	Provider  Principal `json:"provider,omitempty"`
	RecordID  *uint64   `json:"record_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

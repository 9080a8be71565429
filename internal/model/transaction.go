package model

import "time"

// Operation names a journaled mutation
type Operation string

const (
	OpRegisterUser     Operation = "register_user"
	OpCreateRecord     Operation = "create_record"
	OpManageAccess     Operation = "manage_access"
	OpDeactivateRecord Operation = "deactivate_record"
)

// Transaction is the unit written to the journal. Only the fields relevant to
// Op are set.
type Transaction struct {
	Seq       uint64    `json:"seq" db:"seq"`
	Op        Operation `json:"op" db:"op"`
	Caller    Principal `json:"caller" db:"caller"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`

	Name       string    `json:"name,omitempty" db:"name"`
	Contact    string    `json:"contact,omitempty" db:"contact"`
	IsProvider bool      `json:"is_provider,omitempty" db:"is_provider"`
	Patient    Principal `json:"patient,omitempty" db:"patient"`
	Provider   Principal `json:"provider,omitempty" db:"provider"`
	ContentRef string    `json:"content_ref,omitempty" db:"content_ref"`
	RecordType string    `json:"record_type,omitempty" db:"record_type"`
	RecordID   uint64    `json:"record_id,omitempty" db:"record_id"`
	Grant      bool      `json:"grant,omitempty" db:"granted"`

	PrevHash string `json:"prev_hash,omitempty" db:"prev_hash"`
	Hash     string `json:"hash,omitempty" db:"hash"`
}

// Event derives the audit event for a committed transaction.
func (t *Transaction) Event() AuditEvent {
	ev := AuditEvent{
		Seq:       t.Seq,
		Principal: t.Caller,
		Timestamp: t.Timestamp,
	}
	switch t.Op {
	case OpRegisterUser:
		ev.Tag = AuditUserRegistered
	case OpCreateRecord:
		ev.Tag = AuditRecordCreated
		ev.Patient = t.Patient
		ev.Provider = t.Caller
		id := t.RecordID
		ev.RecordID = &id
	case OpManageAccess:
		ev.Tag = AuditAccessRevoked
		if t.Grant {
			ev.Tag = AuditAccessGranted
		}
		ev.Patient = t.Caller
		ev.Provider = t.Provider
	case OpDeactivateRecord:
		ev.Tag = AuditRecordDeactivated
		ev.Patient = t.Patient
		ev.Provider = t.Provider
		id := t.RecordID
		ev.RecordID = &id
	}
	return ev
}

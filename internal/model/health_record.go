package model

// HealthRecord is immutable once created except for the Active flag.
type HealthRecord struct {
	ID         uint64    `json:"id" db:"id"`
	Patient    Principal `json:"patient" db:"patient"`
	Provider   Principal `json:"provider" db:"provider"`
	ContentRef string    `json:"content_ref" db:"content_ref"`
	RecordType string    `json:"record_type" db:"record_type"`
	CreatedAt  int64     `json:"created_at" db:"created_at"`
	Active     bool      `json:"active" db:"active"`
}

// CreateRecordRequest carries no binding rules; the ledger reports the first
// failing precondition in its own order.
type CreateRecordRequest struct {
	Patient    Principal `json:"patient"`
	ContentRef string    `json:"content_ref"`
	RecordType string    `json:"record_type"`
}

type RecordURI struct {
	ID uint64 `uri:"id"`
}

type AccessURI struct {
	Patient  Principal `uri:"patient" binding:"required,principal"`
	Provider Principal `uri:"provider" binding:"required,principal"`
}

type ProviderURI struct {
	Provider Principal `uri:"provider"`
}

type PatientURI struct {
	Patient Principal `uri:"principal"`
}

type AuditQuery struct {
	From  uint64 `form:"from"`
	Limit int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

type ManageAccessRequest struct {
	Grant *bool `json:"grant" binding:"required"`
}

type PatientRecordsResponse struct {
	Patient   Principal `json:"patient"`
	RecordIDs []uint64  `json:"record_ids"`
}

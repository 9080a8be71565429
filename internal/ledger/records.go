package ledger

import (
	"time"

	"github.com/jwalitptl/health-ledger/internal/model"
	apperrors "github.com/jwalitptl/health-ledger/pkg/errors"
)

// RecordStore keeps health records by id plus an append-only per-patient index.
// It never consults the permission matrix or registry itself; the caller passes
// the facts it needs.
type RecordStore struct {
	records   []model.HealthRecord
	byPatient map[model.Principal][]uint64
}

func NewRecordStore() *RecordStore {
	return &RecordStore{byPatient: make(map[model.Principal][]uint64)}
}

// NewRecord carries the caller-supplied fields of a record about to be created.
type NewRecord struct {
	Patient    model.Principal
	Provider   model.Principal
	ContentRef string
	RecordType string
}

// Validate checks creation preconditions in order. patient is nil when the
// patient principal is not registered.
func (s *RecordStore) Validate(rec NewRecord, patient *model.Identity, permissionHolds bool) error {
	if patient == nil || !patient.Registered {
		return apperrors.NotRegistered("patient")
	}
	if patient.IsProvider() {
		return apperrors.WrongRole("patient is a provider")
	}
	if rec.ContentRef == "" {
		return apperrors.EmptyField("content reference")
	}
	if rec.RecordType == "" {
		return apperrors.EmptyField("record type")
	}
	if !permissionHolds {
		return apperrors.NoPermission("provider has no permission for patient")
	}
	return nil
}

// Create validates and stores the record, returning its id.
func (s *RecordStore) Create(rec NewRecord, patient *model.Identity, permissionHolds bool, now time.Time) (uint64, error) {
	if err := s.Validate(rec, patient, permissionHolds); err != nil {
		return 0, err
	}
	return s.insert(rec, now), nil
}

func (s *RecordStore) insert(rec NewRecord, now time.Time) uint64 {
	id := s.Next()
	s.records = append(s.records, model.HealthRecord{
		ID:         id,
		Patient:    rec.Patient,
		Provider:   rec.Provider,
		ContentRef: rec.ContentRef,
		RecordType: rec.RecordType,
		CreatedAt:  now.Unix(),
		Active:     true,
	})
	s.byPatient[rec.Patient] = append(s.byPatient[rec.Patient], id)
	return id
}

// Next is the id the next created record will receive.
func (s *RecordStore) Next() uint64 {
	return uint64(len(s.records))
}

// Total is the current value of the record counter.
func (s *RecordStore) Total() uint64 {
	return uint64(len(s.records))
}

// Deactivate clears the active flag. Deactivating twice is not an error.
func (s *RecordStore) Deactivate(id uint64) error {
	if id >= uint64(len(s.records)) {
		return apperrors.NotFound("record", nil)
	}
	s.records[id].Active = false
	return nil
}

func (s *RecordStore) Get(id uint64) (model.HealthRecord, error) {
	if id >= uint64(len(s.records)) {
		return model.HealthRecord{}, apperrors.NotFound("record", nil)
	}
	return s.records[id], nil
}

// IndexFor returns a copy of the patient's record ids in creation order.
func (s *RecordStore) IndexFor(patient model.Principal) []uint64 {
	ids := s.byPatient[patient]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

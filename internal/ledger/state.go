package ledger

import (
	"fmt"

	"github.com/jwalitptl/health-ledger/internal/model"
)

// State is the injectable ledger state container.
type State struct {
	Registry    *Registry
	Permissions *PermissionMatrix
	Records     *RecordStore
}

func NewState() *State {
	return &State{
		Registry:    NewRegistry(),
		Permissions: NewPermissionMatrix(),
		Records:     NewRecordStore(),
	}
}

// Apply mutates the state for an already validated transaction. It only fails
// when the transaction does not fit the current state, which means the journal
// and the state have diverged.
func (s *State) Apply(tx *model.Transaction) error {
	switch tx.Op {
	case model.OpRegisterUser:
		return s.Registry.Register(tx.Caller, tx.Name, tx.Contact, tx.IsProvider, tx.Timestamp)

	case model.OpCreateRecord:
		if next := s.Records.Next(); tx.RecordID != next {
			return fmt.Errorf("record id %d out of order, expected %d", tx.RecordID, next)
		}
		rec := NewRecord{
			Patient:    tx.Patient,
			Provider:   tx.Caller,
			ContentRef: tx.ContentRef,
			RecordType: tx.RecordType,
		}
		_, err := s.Records.Create(rec, s.Registry.Lookup(tx.Patient), s.Permissions.Check(tx.Patient, tx.Caller), tx.Timestamp)
		return err

	case model.OpManageAccess:
		s.Permissions.Set(tx.Caller, tx.Provider, tx.Grant)
		return nil

	case model.OpDeactivateRecord:
		return s.Records.Deactivate(tx.RecordID)

	default:
		return fmt.Errorf("unknown operation %q", tx.Op)
	}
}

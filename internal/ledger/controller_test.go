package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/health-ledger/internal/model"
	apperrors "github.com/jwalitptl/health-ledger/pkg/errors"
	"github.com/jwalitptl/health-ledger/pkg/metrics"
)

const (
	admin     = model.Principal("admin")
	patientA  = model.Principal("patient-a")
	patientD  = model.Principal("patient-d")
	doctorB   = model.Principal("doctor-b")
	doctorE   = model.Principal("doctor-e")
	strangerC = model.Principal("stranger-c")
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)

func newTestController(t *testing.T, j Journal) *Controller {
	t.Helper()
	if j == nil {
		j = NewMemoryJournal()
	}
	c, err := NewController(context.Background(), j, admin,
		WithClock(func() time.Time { return fixedNow }),
		WithMetrics(metrics.NewMetrics("test", "ledger", prometheus.NewRegistry())),
	)
	require.NoError(t, err)
	return c
}

// seed registers patients A and D and providers B and E.
func seed(t *testing.T, c *Controller) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, c.RegisterUser(ctx, patientA, "Alice", "alice@example.com", false))
	require.NoError(t, c.RegisterUser(ctx, patientD, "Dana", "dana@example.com", false))
	require.NoError(t, c.RegisterUser(ctx, doctorB, "Dr. Bob", "bob@clinic.example", true))
	require.NoError(t, c.RegisterUser(ctx, doctorE, "Dr. Eve", "eve@clinic.example", true))
}

func TestRegisterUser(t *testing.T) {
	c := newTestController(t, nil)
	ctx := context.Background()

	require.NoError(t, c.RegisterUser(ctx, patientA, "Alice", "alice@example.com", false))
	require.NoError(t, c.RegisterUser(ctx, doctorB, "Dr. Bob", "bob@clinic.example", true))

	id, ok := c.GetUserProfile(patientA)
	require.True(t, ok)
	assert.True(t, id.Registered)
	assert.Equal(t, model.RolePatient, id.Role)
	assert.Equal(t, "Alice", id.Name)
	assert.Equal(t, fixedNow.Truncate(time.Second), id.RegisteredAt)

	id, ok = c.GetUserProfile(doctorB)
	require.True(t, ok)
	assert.Equal(t, model.RoleProvider, id.Role)

	err := c.RegisterUser(ctx, patientA, "Alice Again", "other@example.com", true)
	assert.ErrorIs(t, err, apperrors.AlreadyRegisteredError)

	id, _ = c.GetUserProfile(patientA)
	assert.Equal(t, "Alice", id.Name, "failed registration must not change the identity")

	_, ok = c.GetUserProfile(strangerC)
	assert.False(t, ok)
}

func TestRegisterUserValidation(t *testing.T) {
	c := newTestController(t, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		caller  model.Principal
		uname   string
		contact string
		want    error
	}{
		{"empty name", patientA, "", "a@example.com", apperrors.EmptyFieldError},
		{"empty contact", patientA, "Alice", "", apperrors.EmptyFieldError},
		{"no caller", "", "Alice", "a@example.com", apperrors.UnauthorizedError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.RegisterUser(ctx, tt.caller, tt.uname, tt.contact, false)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Equal(t, uint64(0), c.Height())
}

func TestWhitespaceFieldsAreNonEmpty(t *testing.T) {
	c := newTestController(t, nil)
	ctx := context.Background()

	require.NoError(t, c.RegisterUser(ctx, patientA, "   ", " ", false))
	require.NoError(t, c.RegisterUser(ctx, doctorB, "Dr B", "b@example.com", true))
	require.NoError(t, c.ManageAccess(ctx, patientA, doctorB, true))

	identity, ok := c.GetUserProfile(patientA)
	require.True(t, ok)
	assert.True(t, identity.Registered)
	assert.Equal(t, "   ", identity.Name)

	id, err := c.CreateHealthRecord(ctx, doctorB, patientA, " ", "\t")
	require.NoError(t, err)

	rec, err := c.GetHealthRecord(patientA, id)
	require.NoError(t, err)
	assert.Equal(t, " ", rec.ContentRef)
	assert.Equal(t, "\t", rec.RecordType)
}

func TestCreateHealthRecordPreconditions(t *testing.T) {
	c := newTestController(t, nil)
	seed(t, c)
	ctx := context.Background()
	require.NoError(t, c.ManageAccess(ctx, patientA, doctorB, true))

	tests := []struct {
		name       string
		caller     model.Principal
		patient    model.Principal
		contentRef string
		recordType string
		want       error
	}{
		{"unregistered caller", strangerC, patientA, "ref", "lab", apperrors.NotRegisteredError},
		{"caller is patient", patientD, patientA, "ref", "lab", apperrors.CallerNotProviderError},
		{"unregistered patient", doctorB, strangerC, "ref", "lab", apperrors.NotRegisteredError},
		{"patient is provider", doctorB, doctorE, "ref", "lab", apperrors.WrongRoleError},
		{"empty content", doctorB, patientA, "", "lab", apperrors.EmptyFieldError},
		{"empty type", doctorB, patientA, "ref", "", apperrors.EmptyFieldError},
		{"no permission", doctorE, patientA, "ref", "lab", apperrors.NoPermissionError},
		{"other patient", doctorB, patientD, "ref", "lab", apperrors.NoPermissionError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.CreateHealthRecord(ctx, tt.caller, tt.patient, tt.contentRef, tt.recordType)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Equal(t, uint64(0), c.GetTotalRecords())
}

func TestCreateHealthRecordCheckOrder(t *testing.T) {
	c := newTestController(t, nil)
	seed(t, c)
	ctx := context.Background()

	// Every field is invalid; the caller check wins.
	_, err := c.CreateHealthRecord(ctx, strangerC, strangerC, "", "")
	assert.ErrorIs(t, err, apperrors.NotRegisteredError)
	assert.Contains(t, err.Error(), "caller")

	// Registered provider, everything else invalid; patient registration is next.
	_, err = c.CreateHealthRecord(ctx, doctorB, strangerC, "", "")
	assert.ErrorIs(t, err, apperrors.NotRegisteredError)
	assert.Contains(t, err.Error(), "patient")

	// Empty fields are reported before the missing permission.
	_, err = c.CreateHealthRecord(ctx, doctorB, patientA, "", "lab")
	assert.ErrorIs(t, err, apperrors.EmptyFieldError)
}

func TestRecordIDsAreGlobal(t *testing.T) {
	c := newTestController(t, nil)
	seed(t, c)
	ctx := context.Background()
	require.NoError(t, c.ManageAccess(ctx, patientA, doctorB, true))
	require.NoError(t, c.ManageAccess(ctx, patientD, doctorE, true))

	var ids []uint64
	for i, call := range []struct {
		provider, patient model.Principal
	}{
		{doctorB, patientA},
		{doctorE, patientD},
		{doctorB, patientA},
		{doctorE, patientD},
	} {
		id, err := c.CreateHealthRecord(ctx, call.provider, call.patient, "ipfs://ref", "lab")
		require.NoError(t, err, "call %d", i)
		ids = append(ids, id)
	}

	assert.Equal(t, []uint64{0, 1, 2, 3}, ids)
	assert.Equal(t, uint64(4), c.GetTotalRecords())

	got, err := c.GetPatientRecords(patientA, patientA)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 2}, got)

	got, err = c.GetPatientRecords(patientD, patientD)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3}, got)

	rec, err := c.GetHealthRecord(patientD, 3)
	require.NoError(t, err)
	assert.Equal(t, doctorE, rec.Provider)
	assert.Equal(t, patientD, rec.Patient)
	assert.True(t, rec.Active)
	assert.Equal(t, fixedNow.Unix(), rec.CreatedAt)
}

func TestManageAccess(t *testing.T) {
	c := newTestController(t, nil)
	seed(t, c)
	ctx := context.Background()

	assert.False(t, c.HasAccess(patientA, doctorB))

	require.NoError(t, c.ManageAccess(ctx, patientA, doctorB, true))
	assert.True(t, c.HasAccess(patientA, doctorB))
	assert.False(t, c.HasAccess(patientD, doctorB), "edges are per patient")
	assert.False(t, c.HasAccess(doctorB, patientA), "edges are directed")

	require.NoError(t, c.ManageAccess(ctx, patientA, doctorB, true), "granting twice is allowed")
	require.NoError(t, c.ManageAccess(ctx, patientA, doctorB, false))
	assert.False(t, c.HasAccess(patientA, doctorB))

	assert.ErrorIs(t, c.ManageAccess(ctx, strangerC, doctorB, true), apperrors.NotRegisteredError)
	assert.ErrorIs(t, c.ManageAccess(ctx, doctorE, doctorB, true), apperrors.CallerIsProviderError)
	assert.ErrorIs(t, c.ManageAccess(ctx, patientA, strangerC, true), apperrors.NotRegisteredError)
	assert.ErrorIs(t, c.ManageAccess(ctx, patientA, patientD, true), apperrors.WrongRoleError)
}

func TestRevocationKeepsExistingRecords(t *testing.T) {
	c := newTestController(t, nil)
	seed(t, c)
	ctx := context.Background()

	require.NoError(t, c.ManageAccess(ctx, patientA, doctorB, true))
	id, err := c.CreateHealthRecord(ctx, doctorB, patientA, "ipfs://ref1", "diagnosis")
	require.NoError(t, err)

	require.NoError(t, c.ManageAccess(ctx, patientA, doctorB, false))

	_, err = c.CreateHealthRecord(ctx, doctorB, patientA, "ipfs://ref2", "diagnosis")
	assert.ErrorIs(t, err, apperrors.NoPermissionError)

	_, err = c.GetPatientRecords(doctorB, patientA)
	assert.ErrorIs(t, err, apperrors.UnauthorizedError)

	_, err = c.GetHealthRecord(doctorB, id)
	assert.ErrorIs(t, err, apperrors.UnauthorizedError, "authorship does not survive revocation")

	rec, err := c.GetHealthRecord(patientA, id)
	require.NoError(t, err)
	assert.True(t, rec.Active)
	assert.Equal(t, uint64(1), c.GetTotalRecords())
}

func TestGetPatientRecordsAccess(t *testing.T) {
	c := newTestController(t, nil)
	seed(t, c)
	ctx := context.Background()
	require.NoError(t, c.ManageAccess(ctx, patientA, doctorB, true))

	got, err := c.GetPatientRecords(patientA, patientA)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = c.GetPatientRecords(doctorB, patientA)
	assert.NoError(t, err)

	for _, caller := range []model.Principal{doctorE, patientD, strangerC, admin, ""} {
		_, err := c.GetPatientRecords(caller, patientA)
		assert.ErrorIs(t, err, apperrors.UnauthorizedError, "caller %q", caller)
	}
}

func TestDeactivateRecord(t *testing.T) {
	c := newTestController(t, nil)
	seed(t, c)
	ctx := context.Background()
	require.NoError(t, c.ManageAccess(ctx, patientA, doctorB, true))
	id, err := c.CreateHealthRecord(ctx, doctorB, patientA, "ipfs://ref", "lab")
	require.NoError(t, err)

	assert.ErrorIs(t, c.DeactivateRecord(ctx, doctorB, id), apperrors.UnauthorizedError)
	assert.ErrorIs(t, c.DeactivateRecord(ctx, patientA, id), apperrors.UnauthorizedError)
	assert.ErrorIs(t, c.DeactivateRecord(ctx, admin, 42), apperrors.NotFoundError)

	require.NoError(t, c.DeactivateRecord(ctx, admin, id))
	rec, err := c.GetHealthRecord(patientA, id)
	require.NoError(t, err)
	assert.False(t, rec.Active)

	require.NoError(t, c.DeactivateRecord(ctx, admin, id))
	rec, err = c.GetHealthRecord(patientA, id)
	require.NoError(t, err)
	assert.False(t, rec.Active)

	ids, err := c.GetPatientRecords(patientA, patientA)
	require.NoError(t, err)
	assert.Equal(t, []uint64{id}, ids, "deactivated records stay indexed")
}

func TestAuditEvents(t *testing.T) {
	c := newTestController(t, nil)
	seed(t, c)
	ctx := context.Background()
	require.NoError(t, c.ManageAccess(ctx, patientA, doctorB, true))
	id, err := c.CreateHealthRecord(ctx, doctorB, patientA, "ipfs://ref", "lab")
	require.NoError(t, err)
	require.NoError(t, c.ManageAccess(ctx, patientA, doctorB, false))
	require.NoError(t, c.DeactivateRecord(ctx, admin, id))

	// Failed mutations emit nothing.
	_, err = c.CreateHealthRecord(ctx, doctorB, patientA, "ipfs://ref", "lab")
	require.Error(t, err)

	_, err = c.AuditEvents(patientA, 0, 0)
	assert.ErrorIs(t, err, apperrors.UnauthorizedError)

	events, err := c.AuditEvents(admin, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 8)

	tags := make([]model.AuditTag, 0, len(events))
	for i, ev := range events {
		assert.Equal(t, uint64(i), ev.Seq)
		tags = append(tags, ev.Tag)
	}
	assert.Equal(t, []model.AuditTag{
		model.AuditUserRegistered,
		model.AuditUserRegistered,
		model.AuditUserRegistered,
		model.AuditUserRegistered,
		model.AuditAccessGranted,
		model.AuditRecordCreated,
		model.AuditAccessRevoked,
		model.AuditRecordDeactivated,
	}, tags)

	created := events[5]
	assert.Equal(t, patientA, created.Patient)
	assert.Equal(t, doctorB, created.Provider)
	require.NotNil(t, created.RecordID)
	assert.Equal(t, id, *created.RecordID)

	page, err := c.AuditEvents(admin, 6, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, model.AuditAccessRevoked, page[0].Tag)
}

func TestScenarioGrantCreateRevoke(t *testing.T) {
	c := newTestController(t, nil)
	ctx := context.Background()

	require.NoError(t, c.RegisterUser(ctx, patientA, "Alice", "alice@example.com", false))
	require.NoError(t, c.RegisterUser(ctx, doctorB, "Dr. Bob", "bob@clinic.example", true))

	require.NoError(t, c.ManageAccess(ctx, patientA, doctorB, true))
	assert.True(t, c.HasAccess(patientA, doctorB))

	id, err := c.CreateHealthRecord(ctx, doctorB, patientA, "ref1", "diagnosis")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)

	ids, err := c.GetPatientRecords(patientA, patientA)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, ids)

	require.NoError(t, c.ManageAccess(ctx, patientA, doctorB, false))

	_, err = c.GetPatientRecords(doctorB, patientA)
	assert.ErrorIs(t, err, apperrors.UnauthorizedError)

	ids, err = c.GetPatientRecords(patientA, patientA)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, ids)
}

func TestScenarioUnregisteredCreator(t *testing.T) {
	c := newTestController(t, nil)

	_, err := c.CreateHealthRecord(context.Background(), strangerC, patientA, "ref1", "diagnosis")
	assert.ErrorIs(t, err, apperrors.NotRegisteredError)
	assert.Equal(t, "caller not registered", err.Error())
}

func TestReplayRestoresState(t *testing.T) {
	j := NewMemoryJournal()
	c := newTestController(t, j)
	seed(t, c)
	ctx := context.Background()
	require.NoError(t, c.ManageAccess(ctx, patientA, doctorB, true))
	_, err := c.CreateHealthRecord(ctx, doctorB, patientA, "ipfs://one", "lab")
	require.NoError(t, err)
	_, err = c.CreateHealthRecord(ctx, doctorB, patientA, "ipfs://two", "imaging")
	require.NoError(t, err)
	require.NoError(t, c.DeactivateRecord(ctx, admin, 0))
	require.NoError(t, c.ManageAccess(ctx, patientA, doctorB, false))

	restored := newTestController(t, j)

	assert.Equal(t, c.GetTotalRecords(), restored.GetTotalRecords())
	assert.Equal(t, c.Height(), restored.Height())
	assert.False(t, restored.HasAccess(patientA, doctorB))

	want, _ := c.AuditEvents(admin, 0, 0)
	got, _ := restored.AuditEvents(admin, 0, 0)
	assert.Equal(t, want, got)

	for _, p := range []model.Principal{patientA, patientD, doctorB, doctorE} {
		w, _ := c.GetUserProfile(p)
		g, ok := restored.GetUserProfile(p)
		require.True(t, ok)
		assert.Equal(t, w, g)
	}

	first, err := restored.GetHealthRecord(patientA, 0)
	require.NoError(t, err)
	assert.False(t, first.Active)
	second, err := restored.GetHealthRecord(patientA, 1)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://two", second.ContentRef)

	// The restored controller keeps extending the same chain.
	require.NoError(t, restored.ManageAccess(ctx, patientA, doctorB, true))
	id, err := restored.CreateHealthRecord(ctx, doctorB, patientA, "ipfs://three", "lab")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)

	txs, err := j.ReadFrom(ctx, 0, 0)
	require.NoError(t, err)
	assert.NoError(t, VerifyChain(txs, 0, ""))
}

func TestReplayRejectsTamperedJournal(t *testing.T) {
	j := NewMemoryJournal()
	c := newTestController(t, j)
	seed(t, c)

	j.txs[1].Name = "Mallory"

	_, err := NewController(context.Background(), j, admin)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")
}

type failingJournal struct {
	*MemoryJournal
	fail bool
}

func (f *failingJournal) Append(ctx context.Context, tx *model.Transaction) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.MemoryJournal.Append(ctx, tx)
}

func TestFailedJournalLeavesStateUnchanged(t *testing.T) {
	j := &failingJournal{MemoryJournal: NewMemoryJournal()}
	c := newTestController(t, j)
	seed(t, c)
	ctx := context.Background()
	require.NoError(t, c.ManageAccess(ctx, patientA, doctorB, true))

	j.fail = true
	height := c.Height()

	_, err := c.CreateHealthRecord(ctx, doctorB, patientA, "ipfs://ref", "lab")
	assert.ErrorIs(t, err, apperrors.InternalError)
	assert.Equal(t, uint64(0), c.GetTotalRecords())

	err = c.ManageAccess(ctx, patientA, doctorB, false)
	assert.ErrorIs(t, err, apperrors.InternalError)
	assert.True(t, c.HasAccess(patientA, doctorB))

	err = c.RegisterUser(ctx, strangerC, "Carl", "carl@example.com", false)
	assert.ErrorIs(t, err, apperrors.InternalError)
	_, ok := c.GetUserProfile(strangerC)
	assert.False(t, ok)

	assert.Equal(t, height, c.Height())

	j.fail = false
	id, err := c.CreateHealthRecord(ctx, doctorB, patientA, "ipfs://ref", "lab")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)
}

func TestNewControllerRequiresAdmin(t *testing.T) {
	_, err := NewController(context.Background(), NewMemoryJournal(), "")
	assert.Error(t, err)

	_, err = NewController(context.Background(), nil, admin)
	assert.Error(t, err)
}

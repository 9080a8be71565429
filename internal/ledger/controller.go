package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jwalitptl/health-ledger/internal/model"
	apperrors "github.com/jwalitptl/health-ledger/pkg/errors"
	"github.com/jwalitptl/health-ledger/pkg/logger"
	"github.com/jwalitptl/health-ledger/pkg/metrics"
)

const replayBatchSize = 500

// Clock supplies the current time of the execution environment.
type Clock func() time.Time

type Option func(*Controller)

func WithClock(clock Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller is the single entry point to the ledger. Every mutation runs
// check, journal, apply and emit under one write lock; reads share a read lock.
type Controller struct {
	mu      sync.RWMutex
	state   *State
	audit   *AuditLog
	journal Journal
	admin   model.Principal
	clock   Clock
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewController builds the state by replaying the journal. admin is the only
// principal allowed to deactivate records and read the audit log.
func NewController(ctx context.Context, journal Journal, admin model.Principal, opts ...Option) (*Controller, error) {
	if journal == nil {
		return nil, fmt.Errorf("journal is required")
	}
	if admin == "" {
		return nil, fmt.Errorf("administrator principal is required")
	}

	c := &Controller{
		state:   NewState(),
		audit:   NewAuditLog(),
		journal: journal,
		admin:   admin,
		clock:   time.Now,
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.replay(ctx); err != nil {
		return nil, fmt.Errorf("failed to replay journal: %w", err)
	}
	c.updateGauges()

	return c, nil
}

func (c *Controller) replay(ctx context.Context) error {
	var (
		seq  uint64
		prev string
	)
	for {
		txs, err := c.journal.ReadFrom(ctx, seq, replayBatchSize)
		if err != nil {
			return err
		}
		if len(txs) == 0 {
			break
		}
		if err := VerifyChain(txs, seq, prev); err != nil {
			return err
		}
		for _, tx := range txs {
			if err := c.state.Apply(tx); err != nil {
				return fmt.Errorf("transaction %d: %w", tx.Seq, err)
			}
			c.audit.append(tx.Event())
		}
		seq += uint64(len(txs))
		prev = txs[len(txs)-1].Hash
	}

	c.logger.Info("ledger replayed", "transactions", seq, "records", c.state.Records.Total())
	return nil
}

// Admin returns the administrator principal fixed at construction.
func (c *Controller) Admin() model.Principal {
	return c.admin
}

// AuditLog exposes the log for in-process subscribers.
func (c *Controller) AuditLog() *AuditLog {
	return c.audit
}

// RegisterUser creates the caller's identity.
func (c *Controller) RegisterUser(ctx context.Context, caller model.Principal, name, contact string, isProvider bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.registerUser(ctx, caller, name, contact, isProvider)
	c.observe(model.OpRegisterUser, err)
	return err
}

func (c *Controller) registerUser(ctx context.Context, caller model.Principal, name, contact string, isProvider bool) error {
	if caller == "" {
		return apperrors.Unauthorized("caller principal is required")
	}
	if err := c.state.Registry.CanRegister(caller, name, contact); err != nil {
		return err
	}

	return c.commit(ctx, &model.Transaction{
		Op:         model.OpRegisterUser,
		Caller:     caller,
		Name:       name,
		Contact:    contact,
		IsProvider: isProvider,
	})
}

// CreateHealthRecord stores a record for patient authored by the calling
// provider and returns its id.
func (c *Controller) CreateHealthRecord(ctx context.Context, caller, patient model.Principal, contentRef, recordType string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.createHealthRecord(ctx, caller, patient, contentRef, recordType)
	c.observe(model.OpCreateRecord, err)
	return id, err
}

func (c *Controller) createHealthRecord(ctx context.Context, caller, patient model.Principal, contentRef, recordType string) (uint64, error) {
	author, ok := c.state.Registry.Get(caller)
	if !ok {
		return 0, apperrors.NotRegistered("caller")
	}
	if !author.IsProvider() {
		return 0, apperrors.CallerNotProvider("only providers can create records")
	}

	rec := NewRecord{
		Patient:    patient,
		Provider:   caller,
		ContentRef: contentRef,
		RecordType: recordType,
	}
	holds := c.state.Permissions.Check(patient, caller)
	if err := c.state.Records.Validate(rec, c.state.Registry.Lookup(patient), holds); err != nil {
		return 0, err
	}

	tx := &model.Transaction{
		Op:         model.OpCreateRecord,
		Caller:     caller,
		Patient:    patient,
		ContentRef: contentRef,
		RecordType: recordType,
		RecordID:   c.state.Records.Next(),
	}
	if err := c.commit(ctx, tx); err != nil {
		return 0, err
	}
	return tx.RecordID, nil
}

// ManageAccess grants or revokes provider's access to the calling patient's
// records. Setting the same value twice still commits and emits an event.
func (c *Controller) ManageAccess(ctx context.Context, caller, provider model.Principal, grant bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.manageAccess(ctx, caller, provider, grant)
	c.observe(model.OpManageAccess, err)
	return err
}

func (c *Controller) manageAccess(ctx context.Context, caller, provider model.Principal, grant bool) error {
	patient, ok := c.state.Registry.Get(caller)
	if !ok {
		return apperrors.NotRegistered("caller")
	}
	if patient.IsProvider() {
		return apperrors.CallerIsProvider("providers cannot manage access")
	}
	target, ok := c.state.Registry.Get(provider)
	if !ok {
		return apperrors.NotRegistered("provider")
	}
	if !target.IsProvider() {
		return apperrors.WrongRole("target is not a provider")
	}

	return c.commit(ctx, &model.Transaction{
		Op:       model.OpManageAccess,
		Caller:   caller,
		Provider: provider,
		Grant:    grant,
	})
}

// DeactivateRecord clears a record's active flag. Administrator only.
func (c *Controller) DeactivateRecord(ctx context.Context, caller model.Principal, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.deactivateRecord(ctx, caller, id)
	c.observe(model.OpDeactivateRecord, err)
	return err
}

func (c *Controller) deactivateRecord(ctx context.Context, caller model.Principal, id uint64) error {
	if caller != c.admin {
		return apperrors.Unauthorized("only the administrator can deactivate records")
	}
	rec, err := c.state.Records.Get(id)
	if err != nil {
		return err
	}

	return c.commit(ctx, &model.Transaction{
		Op:       model.OpDeactivateRecord,
		Caller:   caller,
		Patient:  rec.Patient,
		Provider: rec.Provider,
		RecordID: id,
	})
}

// commit journals tx, then applies it and emits its audit event. Nothing in
// memory changes unless the journal append succeeds.
func (c *Controller) commit(ctx context.Context, tx *model.Transaction) error {
	tx.Timestamp = c.clock().UTC().Truncate(time.Second)

	start := time.Now()
	err := c.journal.Append(ctx, tx)
	c.observeJournal(start, err)
	if err != nil {
		c.logger.Error(err, "journal append failed", "op", string(tx.Op))
		return apperrors.Internal(fmt.Errorf("failed to journal transaction: %w", err))
	}

	if err := c.state.Apply(tx); err != nil {
		// The journal now holds a transaction the state rejected; the process
		// must not continue serving from diverged state.
		panic(fmt.Sprintf("ledger: committed transaction %d could not be applied: %v", tx.Seq, err))
	}
	c.audit.append(tx.Event())
	c.updateGauges()

	c.logger.Debug("transaction committed", "seq", tx.Seq, "op", string(tx.Op), "caller", string(tx.Caller))
	return nil
}

// GetUserProfile returns the identity and whether the principal is registered.
func (c *Controller) GetUserProfile(principal model.Principal) (model.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Registry.Get(principal)
}

// GetPatientRecords returns the patient's record ids. Readable by the patient,
// and by a provider only while the patient's permission edge holds.
func (c *Controller) GetPatientRecords(caller, patient model.Principal) ([]uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.canRead(caller, patient) {
		return nil, apperrors.Unauthorized("not authorized to view patient records")
	}
	return c.state.Records.IndexFor(patient), nil
}

// GetHealthRecord returns one record under the same rule as GetPatientRecords,
// applied to the record's patient.
func (c *Controller) GetHealthRecord(caller model.Principal, id uint64) (model.HealthRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, err := c.state.Records.Get(id)
	if err != nil {
		return model.HealthRecord{}, err
	}
	if !c.canRead(caller, rec.Patient) {
		return model.HealthRecord{}, apperrors.Unauthorized("not authorized to view record")
	}
	return rec, nil
}

func (c *Controller) canRead(caller, patient model.Principal) bool {
	if caller == "" {
		return false
	}
	if caller == patient {
		return true
	}
	reader, ok := c.state.Registry.Get(caller)
	return ok && reader.IsProvider() && c.state.Permissions.Check(patient, caller)
}

func (c *Controller) HasAccess(patient, provider model.Principal) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Permissions.Check(patient, provider)
}

func (c *Controller) GetTotalRecords() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Records.Total()
}

// AuditEvents pages through the audit log. Administrator only.
func (c *Controller) AuditEvents(caller model.Principal, from uint64, limit int) ([]model.AuditEvent, error) {
	if caller != c.admin {
		return nil, apperrors.Unauthorized("only the administrator can read the audit log")
	}
	return c.audit.Events(from, limit), nil
}

// Height is the number of committed transactions.
func (c *Controller) Height() uint64 {
	return c.audit.Len()
}

func (c *Controller) observe(op model.Operation, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.LedgerOperations.WithLabelValues(string(op), status).Inc()
}

func (c *Controller) observeJournal(start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.JournalLatency.WithLabelValues("append").Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.JournalOperations.WithLabelValues("append", status).Inc()
}

func (c *Controller) updateGauges() {
	if c.metrics == nil {
		return
	}
	c.metrics.LedgerRecords.Set(float64(c.state.Records.Total()))
	c.metrics.LedgerUsers.Set(float64(c.state.Registry.Len()))
	c.metrics.LedgerHeight.Set(float64(c.audit.Len()))
}

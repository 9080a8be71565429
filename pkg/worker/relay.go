package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/health-ledger/internal/model"
	"github.com/jwalitptl/health-ledger/pkg/logger"
	"github.com/jwalitptl/health-ledger/pkg/messaging"
	"github.com/jwalitptl/health-ledger/pkg/metrics"
)

// messageNamespace scopes the deterministic message ids derived from
// transaction hashes.
var messageNamespace = uuid.MustParse("5b0f4a7e-3c51-4d8e-9f3a-2c7d1e6b8a90")

// TransactionSource is the read side of the ledger journal.
type TransactionSource interface {
	ReadFrom(ctx context.Context, seq uint64, limit int) ([]*model.Transaction, error)
}

type RelayConfig struct {
	Topic         string
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	// StartSeq is the first journal position published.
	StartSeq uint64
}

// EventRelay tails the journal and publishes each transaction's audit event to
// the broker in commit order. The cursor only moves past an event once the
// broker accepted it, so delivery is at least once.
type EventRelay struct {
	source  TransactionSource
	broker  messaging.Broker
	config  RelayConfig
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	cursor uint64
}

func NewEventRelay(
	source TransactionSource,
	broker messaging.Broker,
	config RelayConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) (*EventRelay, error) {
	if config.Topic == "" {
		return nil, fmt.Errorf("relay topic is required")
	}
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("relay batch size must be greater than 0")
	}
	if config.PollInterval <= 0 {
		return nil, fmt.Errorf("relay poll interval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		return nil, fmt.Errorf("relay retry attempts must be greater than 0")
	}

	return &EventRelay{
		source:  source,
		broker:  broker,
		config:  config,
		logger:  logger,
		metrics: metrics,
		cursor:  config.StartSeq,
	}, nil
}

// Cursor is the next journal position to publish.
func (r *EventRelay) Cursor() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

func (r *EventRelay) Start(ctx context.Context) {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	r.logger.Info("Starting event relay", "topic", r.config.Topic, "cursor", r.Cursor())

	for {
		if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error(err, "Failed to relay events")
		}

		select {
		case <-ctx.Done():
			r.logger.Info("Shutting down event relay", "cursor", r.Cursor())
			return
		case <-ticker.C:
		}
	}
}

// Drain publishes batches until the journal is exhausted or a publish fails,
// returning how many events were published.
func (r *EventRelay) Drain(ctx context.Context) (int, error) {
	published := 0
	for {
		n, err := r.processBatch(ctx)
		published += n
		if err != nil || n < r.config.BatchSize {
			return published, err
		}
	}
}

func (r *EventRelay) processBatch(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	txs, err := r.source.ReadFrom(ctx, r.cursor, r.config.BatchSize)
	if err != nil {
		r.metrics.JournalOperations.WithLabelValues("read", "error").Inc()
		return 0, fmt.Errorf("failed to read journal: %w", err)
	}
	r.metrics.JournalOperations.WithLabelValues("read", "success").Inc()

	for i, tx := range txs {
		if tx.Seq != r.cursor {
			return i, fmt.Errorf("journal returned seq %d at cursor %d", tx.Seq, r.cursor)
		}
		if err := r.publish(ctx, tx); err != nil {
			r.metrics.RelayEventsFailed.Inc()
			return i, fmt.Errorf("failed to publish event %d: %w", tx.Seq, err)
		}
		r.metrics.RelayEventsPublished.Inc()
		r.cursor++
		r.metrics.RelayCursor.Set(float64(r.cursor))
	}
	return len(txs), nil
}

func (r *EventRelay) publish(ctx context.Context, tx *model.Transaction) error {
	msg, err := NewMessage(tx)
	if err != nil {
		return err
	}

	timer := prometheus.NewTimer(r.metrics.RelayPublishLatency)
	defer timer.ObserveDuration()

	attempt := 0
	return retry(ctx, r.config.RetryAttempts, r.config.RetryDelay, func() error {
		if attempt > 0 {
			r.metrics.RelayRetries.WithLabelValues(msg.Type).Inc()
		}
		attempt++
		return r.broker.Publish(ctx, r.config.Topic, msg)
	})
}

// NewMessage wraps the audit event of tx in the broker envelope. The id is
// derived from the transaction hash, so republishing yields the same id.
func NewMessage(tx *model.Transaction) (messaging.Message, error) {
	ev := tx.Event()
	payload, err := json.Marshal(ev)
	if err != nil {
		return messaging.Message{}, fmt.Errorf("failed to encode event %d: %w", tx.Seq, err)
	}
	return messaging.Message{
		ID:        uuid.NewSHA1(messageNamespace, []byte(tx.Hash)).String(),
		Type:      string(ev.Tag),
		Seq:       tx.Seq,
		Timestamp: ev.Timestamp,
		Payload:   payload,
	}, nil
}

// retry runs fn up to attempts times, delay apart, giving up early when ctx
// is cancelled.
func retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1)),
		ctx,
	)
	return backoff.Retry(fn, policy)
}

package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/jwalitptl/health-ledger/internal/model"
)

// Journal is the durable, strictly sequenced log of committed transactions.
// Append assigns Seq, PrevHash and Hash before persisting; a failed Append must
// leave the journal unchanged.
type Journal interface {
	Append(ctx context.Context, tx *model.Transaction) error
	ReadFrom(ctx context.Context, seq uint64, limit int) ([]*model.Transaction, error)
	Close() error
}

// Seal sets PrevHash and computes Hash over the canonical encoding of tx.
func Seal(tx *model.Transaction, prevHash string) error {
	tx.PrevHash = prevHash
	h, err := hashOf(tx)
	if err != nil {
		return err
	}
	tx.Hash = h
	return nil
}

// VerifyChain checks that txs are consecutive, start at the expected sequence
// and link to prevHash.
func VerifyChain(txs []*model.Transaction, seq uint64, prevHash string) error {
	for _, tx := range txs {
		if tx.Seq != seq {
			return fmt.Errorf("journal gap: expected seq %d, got %d", seq, tx.Seq)
		}
		if tx.PrevHash != prevHash {
			return fmt.Errorf("journal chain broken at seq %d", tx.Seq)
		}
		h, err := hashOf(tx)
		if err != nil {
			return err
		}
		if h != tx.Hash {
			return fmt.Errorf("journal hash mismatch at seq %d", tx.Seq)
		}
		prevHash = tx.Hash
		seq++
	}
	return nil
}

func hashOf(tx *model.Transaction) (string, error) {
	c := *tx
	c.Hash = ""
	c.Timestamp = c.Timestamp.UTC()
	data, err := json.Marshal(&c)
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction: %w", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// MemoryJournal keeps transactions in process memory. Used for tests and the
// "memory" backend.
type MemoryJournal struct {
	mu  sync.RWMutex
	txs []*model.Transaction
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Append(ctx context.Context, tx *model.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	prev := ""
	if n := len(j.txs); n > 0 {
		prev = j.txs[n-1].Hash
	}
	tx.Seq = uint64(len(j.txs))
	if err := Seal(tx, prev); err != nil {
		return err
	}
	c := *tx
	j.txs = append(j.txs, &c)
	return nil
}

func (j *MemoryJournal) ReadFrom(ctx context.Context, seq uint64, limit int) ([]*model.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	if seq >= uint64(len(j.txs)) {
		return nil, nil
	}
	end := uint64(len(j.txs))
	if limit > 0 && seq+uint64(limit) < end {
		end = seq + uint64(limit)
	}
	out := make([]*model.Transaction, 0, end-seq)
	for _, tx := range j.txs[seq:end] {
		c := *tx
		out = append(out, &c)
	}
	return out, nil
}

func (j *MemoryJournal) Close() error {
	return nil
}

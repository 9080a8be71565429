package leveldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/jwalitptl/health-ledger/internal/ledger"
	"github.com/jwalitptl/health-ledger/internal/model"
)

const (
	txPrefix   = "tx_"
	keyHeight  = "meta_height"
	keyTipHash = "meta_tip_hash"
)

func txKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", txPrefix, seq))
}

// Journal keeps ledger transactions in a LevelDB directory. Keys are
// zero-padded sequence numbers so iteration order is commit order.
type Journal struct {
	mu     sync.Mutex
	db     *leveldb.DB
	height uint64
	tip    string
}

var _ ledger.Journal = (*Journal)(nil)

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}

	j := &Journal{db: db}
	if err := j.loadMeta(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) loadMeta() error {
	raw, err := j.db.Get([]byte(keyHeight), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read journal height: %w", err)
	}
	h, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("corrupt journal height %q: %w", raw, err)
	}
	tip, err := j.db.Get([]byte(keyTipHash), nil)
	if err != nil {
		return fmt.Errorf("failed to read journal tip: %w", err)
	}
	j.height = h
	j.tip = string(tip)
	return nil
}

func (j *Journal) Append(ctx context.Context, tx *model.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	tx.Seq = j.height
	if err := ledger.Seal(tx, j.tip); err != nil {
		return err
	}
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Put(txKey(tx.Seq), data)
	batch.Put([]byte(keyHeight), []byte(strconv.FormatUint(tx.Seq+1, 10)))
	batch.Put([]byte(keyTipHash), []byte(tx.Hash))
	if err := j.db.Write(batch, nil); err != nil {
		tx.Hash, tx.PrevHash = "", ""
		return fmt.Errorf("failed to write transaction %d: %w", tx.Seq, err)
	}

	j.height = tx.Seq + 1
	j.tip = tx.Hash
	return nil
}

func (j *Journal) ReadFrom(ctx context.Context, seq uint64, limit int) ([]*model.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	iter := j.db.NewIterator(&util.Range{Start: txKey(seq), Limit: util.BytesPrefix([]byte(txPrefix)).Limit}, nil)
	defer iter.Release()

	var txs []*model.Transaction
	for iter.Next() {
		var tx model.Transaction
		if err := json.Unmarshal(iter.Value(), &tx); err != nil {
			return nil, fmt.Errorf("corrupt transaction at %s: %w", iter.Key(), err)
		}
		txs = append(txs, &tx)
		if limit > 0 && len(txs) == limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return txs, nil
}

// Height is the number of transactions written so far.
func (j *Journal) Height() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.height
}

func (j *Journal) Close() error {
	return j.db.Close()
}

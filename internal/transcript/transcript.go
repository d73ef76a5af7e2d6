// Package transcript keeps the most recent chat turns for the lifetime of the
// process. Turns live in an in-memory LevelDB so history reads are ordered
// prefix scans; nothing is written to disk.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/haricheung/agentic-todo/internal/bus"
	"github.com/haricheung/agentic-todo/internal/types"
)

// Key scheme:
//
//	t|<seq>  → Turn JSON   (seq is zero-padded so byte order is insertion order)
const prefixTurn = "t|"

// DefaultLimit caps the transcript when no limit is configured.
const DefaultLimit = 200

// Transcript records completed turns and serves them back oldest-first.
type Transcript struct {
	db    *leveldb.DB
	reply <-chan types.Message
	limit int

	mu     sync.Mutex
	next   uint64 // seq of the next turn
	oldest uint64 // seq of the oldest retained turn
}

// New opens an in-memory transcript holding at most limit turns and
// subscribes it to Reply events on b. b may be nil when turns are recorded
// directly.
func New(b *bus.Bus, limit int) (*Transcript, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("transcript: open: %w", err)
	}
	t := &Transcript{db: db, limit: limit}
	if b != nil {
		t.reply = b.Subscribe(types.MsgReply)
	}
	return t, nil
}

// Run records every Reply event until ctx is cancelled. The DB stays open
// so history reads keep working while the HTTP server drains; the owner
// calls Close once nothing reads it any more.
func (t *Transcript) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-t.reply:
			if !ok {
				return
			}
			r, ok := msg.Payload.(types.Reply)
			if !ok {
				slog.Warn("[TRANSCRIPT] unexpected Reply payload", "type", fmt.Sprintf("%T", msg.Payload))
				continue
			}
			turn := types.Turn{ID: msg.TurnID, Timestamp: msg.Timestamp, Message: r.UserText, Reply: r.Text, Capability: r.Capability}
			if err := t.Record(turn); err != nil {
				slog.Error("[TRANSCRIPT] record failed", "turn", msg.TurnID, "error", err)
			}
		}
	}
}

// Close releases the DB. Reads and writes after Close return errors.
func (t *Transcript) Close() error {
	if err := t.db.Close(); err != nil {
		return fmt.Errorf("transcript: close: %w", err)
	}
	return nil
}

// Record appends a turn, evicting the oldest turns beyond the limit in the
// same batch.
//
// Expectations:
//   - Assigns ID and Timestamp if missing
//   - Never retains more than limit turns
//   - Eviction removes the oldest turns first
func (t *Transcript) Record(turn types.Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("transcript: marshal turn: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	batch := new(leveldb.Batch)
	batch.Put(turnKey(t.next), data)
	oldest := t.oldest
	for t.next+1-oldest > uint64(t.limit) {
		batch.Delete(turnKey(oldest))
		oldest++
	}
	if err := t.db.Write(batch, nil); err != nil {
		return fmt.Errorf("transcript: write: %w", err)
	}
	t.next++
	t.oldest = oldest
	return nil
}

// Recent returns up to limit of the most recent turns, oldest first.
// A non-positive limit returns every retained turn.
//
// Expectations:
//   - Returns an empty, non-nil slice when nothing has been recorded
//   - Order is oldest-first within the returned window
func (t *Transcript) Recent(limit int) ([]types.Turn, error) {
	iter := t.db.NewIterator(util.BytesPrefix([]byte(prefixTurn)), nil)
	defer iter.Release()

	var newestFirst []types.Turn
	for ok := iter.Last(); ok; ok = iter.Prev() {
		if limit > 0 && len(newestFirst) == limit {
			break
		}
		var turn types.Turn
		if err := json.Unmarshal(iter.Value(), &turn); err != nil {
			return nil, fmt.Errorf("transcript: decode %s: %w", iter.Key(), err)
		}
		newestFirst = append(newestFirst, turn)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("transcript: scan: %w", err)
	}

	out := make([]types.Turn, len(newestFirst))
	for i, turn := range newestFirst {
		out[len(newestFirst)-1-i] = turn
	}
	return out, nil
}

// Len reports how many turns are retained.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int(t.next - t.oldest)
}

func turnKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixTurn, seq))
}

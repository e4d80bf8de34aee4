// Package snowflake issues globally unique, roughly time-ordered 64-bit ids
// without a central sequence. The layout is the classic 41-bit millisecond
// timestamp / 10-bit worker id / 12-bit per-millisecond sequence split, offset
// from a fixed custom epoch.
package snowflake

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Epoch is the custom epoch all timestamps are offset from: 2023-01-01T00:00:00Z.
const Epoch int64 = 1672531200000

const (
	workerIDBits = 10
	sequenceBits = 12

	maxWorkerID = -1 ^ (-1 << workerIDBits)
	maxSequence = -1 ^ (-1 << sequenceBits)

	timestampShift = workerIDBits + sequenceBits
	workerIDShift  = sequenceBits
)

// ErrClockMovedBackwards is returned when the wall clock regresses below the
// last issued timestamp. This is fatal for the process: issuing anyway could
// mint a duplicate id, so the generator refuses rather than patching state.
var ErrClockMovedBackwards = errors.New("snowflake: clock moved backwards")

// Generator is safe for concurrent use. All allocation state lives behind a
// single mutex; construct one per process and inject it as a dependency.
type Generator struct {
	mu            sync.Mutex
	workerID      int64
	lastTimestamp int64
	sequence      int64

	now func() int64
}

// New validates the worker id (0..1023) and returns a ready generator.
func New(workerID int64) (*Generator, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("snowflake: worker id %d out of range [0, %d]", workerID, maxWorkerID)
	}
	return &Generator{
		workerID:      workerID,
		lastTimestamp: -1,
		now:           nowMillis,
	}, nil
}

// NextID allocates the next id. It fails only on clock regression; callers
// must treat that error as unrecoverable for this process.
func (g *Generator) NextID() (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now()
	if ts < g.lastTimestamp {
		return 0, fmt.Errorf("%w: refusing to generate for %dms", ErrClockMovedBackwards, g.lastTimestamp-ts)
	}

	if ts == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// Sequence exhausted within this millisecond; spin until the
			// clock advances.
			for ts <= g.lastTimestamp {
				ts = g.now()
			}
		}
	} else {
		g.sequence = 0
	}

	g.lastTimestamp = ts

	id := ((ts - Epoch) << timestampShift) |
		(g.workerID << workerIDShift) |
		g.sequence
	return uint64(id), nil
}

// WorkerID reports the configured worker id.
func (g *Generator) WorkerID() int64 { return g.workerID }

// Timestamp extracts the wall-clock millisecond timestamp embedded in an id.
func Timestamp(id uint64) time.Time {
	ms := int64(id>>timestampShift) + Epoch
	return time.UnixMilli(ms)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

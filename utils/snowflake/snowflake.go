package snowflake

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

const (
	// Epoch is the custom epoch (January 1, 2024 00:00:00 UTC) in milliseconds.
	Epoch int64 = 1704067200000

	workerIDBits uint8 = 10
	sequenceBits uint8 = 12

	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits

	MaxWorkerID  int64 = -1 ^ (-1 << workerIDBits)
	sequenceMask int64 = -1 ^ (-1 << sequenceBits)
)

var (
	ErrInvalidWorkerID     = errors.New("worker ID out of range")
	ErrClockMovedBackwards = errors.New("clock moved backwards")
)

// Generator produces 63-bit IDs ordered by creation time: 41 bits of
// milliseconds since Epoch, 10 bits of worker ID, 12 bits of sequence.
type Generator struct {
	mu sync.Mutex

	workerID      int64
	sequence      int64
	lastTimestamp int64

	now func() int64
}

// NewGenerator creates a generator for the given worker.
func NewGenerator(workerID int64) (*Generator, error) {
	if workerID < 0 || workerID > MaxWorkerID {
		return nil, ErrInvalidWorkerID
	}
	return &Generator{
		workerID: workerID,
		now:      func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// NextID generates the next unique ID.
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	timestamp := g.now()
	if timestamp < g.lastTimestamp {
		return 0, ErrClockMovedBackwards
	}

	if timestamp == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & sequenceMask
		if g.sequence == 0 {
			// sequence exhausted for this millisecond
			for timestamp <= g.lastTimestamp {
				timestamp = g.now()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = timestamp

	return ((timestamp - Epoch) << timestampShift) | (g.workerID << workerIDShift) | g.sequence, nil
}

// NextString is NextID formatted as a decimal string, the form stored in
// message primary keys.
func (g *Generator) NextString() (string, error) {
	id, err := g.NextID()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

// Parse extracts the components from an ID.
func Parse(id int64) (timestamp int64, workerID int64, sequence int64) {
	sequence = id & sequenceMask
	workerID = (id >> workerIDShift) & MaxWorkerID
	timestamp = (id >> timestampShift) + Epoch
	return
}

package gameserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/battleship/internal/storage/postgres"
)

// ResultStore persists finished games.
type ResultStore interface {
	Save(ctx context.Context, res postgres.GameResult) error
}

// ErrRecorderClosed is returned by Push after Close.
var ErrRecorderClosed = errors.New("result recorder closed")

// ErrRecorderFull is returned by Push when the queue is at capacity.
var ErrRecorderFull = errors.New("result recorder queue full")

// Recorder queues game results and writes them to a ResultStore from its
// own goroutine, so finishing a game never waits on the database while the
// registry lock is held.
type Recorder struct {
	store   ResultStore
	timeout time.Duration
	logger  *zap.Logger

	queue  chan postgres.GameResult
	mu     sync.Mutex
	closed bool
}

// NewRecorder creates a Recorder with room for bufferSize pending results.
// Each save is bounded by timeout.
//
// Precondition: store and logger must be non-nil.
// Postcondition: Returns an open Recorder; Run must be called to drain it.
func NewRecorder(store ResultStore, bufferSize int, timeout time.Duration, logger *zap.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Recorder{
		store:   store,
		timeout: timeout,
		logger:  logger,
		queue:   make(chan postgres.GameResult, bufferSize),
	}
}

// Push enqueues res without blocking.
//
// Postcondition: res is queued, or ErrRecorderClosed / ErrRecorderFull is returned.
func (r *Recorder) Push(res postgres.GameResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRecorderClosed
	}
	select {
	case r.queue <- res:
		return nil
	default:
		return ErrRecorderFull
	}
}

// Run saves queued results until Close is called and the queue is drained.
func (r *Recorder) Run(ctx context.Context) {
	for res := range r.queue {
		saveCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := r.store.Save(saveCtx, res)
		cancel()
		if err != nil {
			r.logger.Error("saving game result",
				zap.String("result_id", res.ID.String()),
				zap.String("room", res.RoomCode),
				zap.Error(err),
			)
			continue
		}
		r.logger.Debug("game result saved",
			zap.String("result_id", res.ID.String()),
			zap.String("winner", res.Winner),
		)
	}
}

// Close stops accepting results. Run returns once the queue is drained.
//
// Postcondition: Further Push calls return ErrRecorderClosed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	return nil
}

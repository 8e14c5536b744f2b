package archive

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/circle/backend/internal/models"
)

// ObjectStorage stores one object under key.
type ObjectStorage interface {
	Save(ctx context.Context, key string, body []byte) (string, error)
}

// Config controls the worker pool and object layout.
type Config struct {
	Prefix    string
	QueueSize int
	Workers   int
	// UploadTimeout bounds a single upload attempt.
	UploadTimeout time.Duration
}

// Record is the JSON document written for each rejected request.
type Record struct {
	ID         int64     `json:"id"`
	FromUserID int64     `json:"fromUserId"`
	ToUserID   int64     `json:"toUserId"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	RejectedAt time.Time `json:"rejectedAt"`
}

var (
	// ErrClosed is returned by Enqueue after Shutdown.
	ErrClosed = errors.New("archive closed")
	// ErrQueueFull is returned when the backlog is at capacity.
	ErrQueueFull = errors.New("archive queue full")
)

// Archiver uploads rejected friend requests in the background. Enqueue never
// blocks the caller on the object store.
type Archiver struct {
	storage ObjectStorage
	cfg     Config
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan Record
	wg     sync.WaitGroup

	// NowFunc overrides the clock stamped into RejectedAt.
	NowFunc func() time.Time
}

// New starts the worker pool.
func New(storage ObjectStorage, cfg Config, logger *slog.Logger) *Archiver {
	if storage == nil {
		panic("archive: storage must not be nil")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 30 * time.Second
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	if logger == nil {
		logger = slog.Default()
	}

	a := &Archiver{
		storage: storage,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "archive")),
		jobs:    make(chan Record, cfg.QueueSize),
	}

	a.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go a.worker()
	}
	return a
}

// Enqueue schedules request for upload.
func (a *Archiver) Enqueue(ctx context.Context, request models.FriendRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	record := Record{
		ID:         request.ID,
		FromUserID: request.FromUserID,
		ToUserID:   request.ToUserID,
		Status:     string(models.RequestRejected),
		CreatedAt:  request.CreatedAt.UTC(),
		RejectedAt: a.now(),
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}

	select {
	case a.jobs <- record:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for queued uploads to finish.
func (a *Archiver) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.jobs)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Key returns the object key for record: <prefix>/<yyyy>/<mm>/<dd>/<id>.json.
func (a *Archiver) Key(record Record) string {
	day := record.RejectedAt.UTC()
	name := strconv.FormatInt(record.ID, 10) + ".json"
	return path.Join(a.cfg.Prefix, day.Format("2006"), day.Format("01"), day.Format("02"), name)
}

func (a *Archiver) worker() {
	defer a.wg.Done()
	for record := range a.jobs {
		a.upload(record)
	}
}

func (a *Archiver) upload(record Record) {
	body, err := json.Marshal(record)
	if err != nil {
		a.logger.Error("encode archive record", "requestId", record.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.UploadTimeout)
	defer cancel()

	key := a.Key(record)
	location, err := a.storage.Save(ctx, key, body)
	if err != nil {
		a.logger.Error("upload archive record", "requestId", record.ID, "key", key, "error", err)
		return
	}
	a.logger.Info("archived rejected friend request", "requestId", record.ID, "location", location)
}

func (a *Archiver) now() time.Time {
	if a.NowFunc != nil {
		return a.NowFunc().UTC()
	}
	return time.Now().UTC()
}

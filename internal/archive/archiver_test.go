package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circle/backend/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type blockingStorage struct {
	release chan struct{}
	mu      sync.Mutex
	keys    []string
}

func (s *blockingStorage) Save(ctx context.Context, key string, _ []byte) (string, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	s.mu.Lock()
	s.keys = append(s.keys, key)
	s.mu.Unlock()
	return key, nil
}

type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: make(map[string][]byte)}
}

func (m *memoryStorage) Save(_ context.Context, key string, body []byte) (string, error) {
	if key == "" {
		return "", errors.New("empty key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = bytes.Clone(body)
	return "memory://" + key, nil
}

func (m *memoryStorage) object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[key]
	return body, ok
}

type failingStorage struct{}

func (failingStorage) Save(context.Context, string, []byte) (string, error) {
	return "", errors.New("access denied")
}

func TestArchiverUploadsRecord(t *testing.T) {
	storage := newMemoryStorage()
	archiver := New(storage, Config{Prefix: "/rejected/", Workers: 2}, quietLogger())
	archiver.NowFunc = func() time.Time { return time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC) }

	created := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	err := archiver.Enqueue(context.Background(), models.FriendRequest{
		ID:         42,
		FromUserID: 1,
		ToUserID:   2,
		Status:     models.RequestPending,
		CreatedAt:  created,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, archiver.Shutdown(ctx))

	body, ok := storage.object("rejected/2024/03/09/42.json")
	require.True(t, ok, "expected object under the dated key")

	var record Record
	require.NoError(t, json.Unmarshal(body, &record))
	assert.Equal(t, int64(42), record.ID)
	assert.Equal(t, "rejected", record.Status)
	assert.Equal(t, int64(1), record.FromUserID)
	assert.Equal(t, int64(2), record.ToUserID)
	assert.True(t, record.CreatedAt.Equal(created))
}

func TestArchiverRejectsAfterShutdown(t *testing.T) {
	archiver := New(newMemoryStorage(), Config{}, quietLogger())
	require.NoError(t, archiver.Shutdown(context.Background()))
	require.NoError(t, archiver.Shutdown(context.Background()), "shutdown is idempotent")

	err := archiver.Enqueue(context.Background(), models.FriendRequest{ID: 1})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestArchiverQueueFull(t *testing.T) {
	storage := &blockingStorage{release: make(chan struct{})}
	archiver := New(storage, Config{QueueSize: 1, Workers: 1}, quietLogger())

	// the worker holds one record, the queue holds one more
	require.NoError(t, archiver.Enqueue(context.Background(), models.FriendRequest{ID: 1}))
	require.Eventually(t, func() bool { return len(archiver.jobs) == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, archiver.Enqueue(context.Background(), models.FriendRequest{ID: 2}))

	err := archiver.Enqueue(context.Background(), models.FriendRequest{ID: 3})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(storage.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, archiver.Shutdown(ctx))

	storage.mu.Lock()
	defer storage.mu.Unlock()
	assert.Len(t, storage.keys, 2, "queued records drain on shutdown")
}

func TestArchiverStorageFailureIsLogged(t *testing.T) {
	archiver := New(failingStorage{}, Config{}, quietLogger())
	require.NoError(t, archiver.Enqueue(context.Background(), models.FriendRequest{ID: 9}))
	require.NoError(t, archiver.Shutdown(context.Background()))
}

func TestArchiverCanceledContext(t *testing.T) {
	archiver := New(newMemoryStorage(), Config{}, quietLogger())
	defer archiver.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, archiver.Enqueue(ctx, models.FriendRequest{ID: 1}), context.Canceled)
}

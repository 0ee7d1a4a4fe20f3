package activity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (m *mockStore) InsertActivity(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestQueue_RecordAndRun(t *testing.T) {
	store := &mockStore{}
	q := NewQueue(store, 8)
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	q.now = func() time.Time { return fixed }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	q.Record(context.Background(), Entry{SubjectType: SubjectOrder, SubjectID: 7, Description: "placed"})

	require.Eventually(t, func() bool { return store.len() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int64(7), store.entries[0].SubjectID)
	assert.Equal(t, fixed, store.entries[0].CreatedAt)
}

func TestQueue_DropsWhenFull(t *testing.T) {
	store := &mockStore{}
	q := NewQueue(store, 1)

	q.Record(context.Background(), Entry{SubjectID: 1})
	q.Record(context.Background(), Entry{SubjectID: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, q.Run(ctx))

	require.Equal(t, 1, store.len())
	assert.Equal(t, int64(1), store.entries[0].SubjectID)
}

func TestQueue_StoreFailureIsSwallowed(t *testing.T) {
	store := &mockStore{err: errors.New("db down")}
	q := NewQueue(store, 4)

	q.Record(context.Background(), Entry{SubjectID: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, q.Run(ctx))
	assert.Zero(t, store.len())
}

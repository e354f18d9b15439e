package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndEnd(t *testing.T) {
	m := NewManager(0)
	s, ctx, err := m.Create(context.Background(), "writer", "")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.NotEmpty(t, s.ConversationID, "conversation id is generated when absent")
	assert.EqualValues(t, 1, m.ActiveCount())

	got, ok := m.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	m.End(s.ID, StatusCompleted)
	m.End(s.ID, StatusFailed)
	assert.EqualValues(t, 0, m.ActiveCount())
	assert.Error(t, ctx.Err(), "session context is released on end")

	_, ok = m.Get(s.ID)
	assert.False(t, ok)
	info, ok := m.Lookup(s.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, info.Status)
	assert.NotNil(t, info.EndedAt)
}

func TestCancelBySessionAndConversation(t *testing.T) {
	m := NewManager(0)
	a, ctxA, _ := m.Create(context.Background(), "x", "conv-1")
	_, ctxB, _ := m.Create(context.Background(), "x", "conv-1")
	_, ctxC, _ := m.Create(context.Background(), "x", "conv-2")

	require.NoError(t, m.Cancel(a.ID))
	assert.Error(t, ctxA.Err())
	assert.True(t, a.CancelledExplicitly())

	ids := m.CancelConversation("conv-1")
	assert.Len(t, ids, 2)
	assert.Error(t, ctxB.Err())
	assert.NoError(t, ctxC.Err())

	err := m.Cancel("missing")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestCapacityLimit(t *testing.T) {
	m := NewManager(1)
	first, _, err := m.Create(context.Background(), "x", "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err = m.Create(ctx, "x", "")
	require.ErrorIs(t, err, ErrCapacity)

	m.End(first.ID, StatusCompleted)
	second, _, err := m.Create(context.Background(), "x", "")
	require.NoError(t, err)
	m.End(second.ID, StatusCompleted)
}

func TestListConcurrent(t *testing.T) {
	m := NewManager(0)
	var wg sync.WaitGroup
	ids := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, _, err := m.Create(context.Background(), "x", "")
			assert.NoError(t, err)
			ids <- s.ID
		}()
	}
	wg.Wait()
	close(ids)

	list := m.List()
	assert.Len(t, list, 50)
	for i := 1; i < len(list); i++ {
		assert.False(t, list[i].StartedAt.Before(list[i-1].StartedAt))
	}
	for id := range ids {
		m.End(id, StatusCompleted)
	}
	assert.Empty(t, m.List())
}

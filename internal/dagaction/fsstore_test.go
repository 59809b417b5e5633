package dagaction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStoreAddExistsDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	a := Action{Group: "g", Name: "f", FlowExecutionID: 100, Type: Launch}

	exists, err := s.Exists(ctx, a)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Add(ctx, a))
	exists, err = s.Exists(ctx, a)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Add(ctx, a)) // no-op on re-add

	require.NoError(t, s.Delete(ctx, a))
	exists, err = s.Exists(ctx, a)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Delete(ctx, a)) // no-op on re-delete
}

func TestFSStoreList(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	a1 := Action{Group: "g", Name: "f", FlowExecutionID: 100, Type: Launch}
	a2 := Action{Group: "g", Name: "f", FlowExecutionID: 200, Type: Kill}
	require.NoError(t, s.Add(ctx, a1))
	require.NoError(t, s.Add(ctx, a2))

	actions, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, actions, 2)
}

func TestFSStoreWatchObservesAdd(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	watch, err := s.Watch(ctx)
	require.NoError(t, err)

	a := Action{Group: "g", Name: "f", FlowExecutionID: 100, Type: Resume}
	require.NoError(t, s.Add(context.Background(), a))

	select {
	case got := <-watch:
		assert.Equal(t, a, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for watch event")
	}
}

func TestActionKeyRoundTrip(t *testing.T) {
	a := Action{Group: "g", Name: "flow", FlowExecutionID: 12345, Type: Kill}
	parsed, ok := parseKey(a.Key())
	require.True(t, ok)
	assert.Equal(t, a, parsed)
}

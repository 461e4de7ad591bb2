package session

import (
	"context"
	"testing"
	"time"

	"mcpgate/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotWith(backend string) registry.Snapshot {
	return registry.Snapshot{
		Tools: registry.RouteMap{
			"search": {Backend: backend, Original: "search"},
		},
		Resources: registry.RouteMap{},
		Prompts:   registry.RouteMap{},
	}
}

func TestManager_CreateAndGet(t *testing.T) {
	m := NewManager(time.Minute, time.Minute)

	record := m.Create("sess-1", snapshotWith("alpha"), registry.Counts{Tools: 1}, "sse")
	assert.Equal(t, "sess-1", record.ID)
	assert.Equal(t, 1, m.Count())

	got, ok := m.Get("sess-1")
	require.True(t, ok)
	assert.Same(t, record, got)

	route, ok := got.Routes.Resolve(registry.KindTool, "search")
	require.True(t, ok)
	assert.Equal(t, "alpha", route.Backend)
}

func TestManager_EmptyIDGetsGenerated(t *testing.T) {
	m := NewManager(time.Minute, time.Minute)
	record := m.Create("", snapshotWith("alpha"), registry.Counts{}, "stdio")
	assert.NotEmpty(t, record.ID)
}

func TestManager_GetTouchesSession(t *testing.T) {
	m := NewManager(50*time.Millisecond, time.Minute)
	m.Create("sess-1", snapshotWith("alpha"), registry.Counts{}, "sse")

	// Keep touching under the TTL; the session must survive past the
	// original deadline.
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		_, ok := m.Get("sess-1")
		require.True(t, ok, "touched session expired at iteration %d", i)
	}
}

func TestManager_ExpiredSessionEvictedOnAccess(t *testing.T) {
	m := NewManager(20*time.Millisecond, time.Minute)
	m.Create("sess-1", snapshotWith("alpha"), registry.Counts{}, "sse")

	time.Sleep(50 * time.Millisecond)

	_, ok := m.Get("sess-1")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Count())
}

func TestManager_SweeperEvictsExpired(t *testing.T) {
	m := NewManager(20*time.Millisecond, 30*time.Millisecond)
	m.Create("sess-1", snapshotWith("alpha"), registry.Counts{}, "sse")
	m.Create("sess-2", snapshotWith("beta"), registry.Counts{}, "sse")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	assert.Eventually(t, func() bool { return m.Count() == 0 },
		500*time.Millisecond, 10*time.Millisecond)
}

func TestManager_StopExitsPromptly(t *testing.T) {
	m := NewManager(time.Minute, 20*time.Millisecond)
	m.Start(context.Background())

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop within a sweep interval")
	}
}

func TestManager_Delete(t *testing.T) {
	m := NewManager(time.Minute, time.Minute)
	m.Create("sess-1", snapshotWith("alpha"), registry.Counts{}, "sse")

	m.Delete("sess-1")
	_, ok := m.Get("sess-1")
	assert.False(t, ok)
}

func TestManager_RoutesAreFrozenPerSession(t *testing.T) {
	m := NewManager(time.Minute, time.Minute)

	first := m.Create("sess-1", snapshotWith("alpha"), registry.Counts{}, "sse")
	second := m.Create("sess-2", snapshotWith("beta"), registry.Counts{}, "sse")

	routeFirst, ok := first.Routes.Resolve(registry.KindTool, "search")
	require.True(t, ok)
	routeSecond, ok := second.Routes.Resolve(registry.KindTool, "search")
	require.True(t, ok)

	assert.Equal(t, "alpha", routeFirst.Backend)
	assert.Equal(t, "beta", routeSecond.Backend)
}

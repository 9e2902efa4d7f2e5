package watch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackRunsOnePerProject(t *testing.T) {
	r := NewRegistry()

	release := make(chan struct{})
	started := r.Track("p1", func(ctx context.Context) {
		<-release
	})
	require.True(t, started)
	assert.True(t, r.Active("p1"))

	assert.False(t, r.Track("p1", func(ctx context.Context) {
		t.Error("second watcher must not start")
	}))

	close(release)
	require.Eventually(t, func() bool { return !r.Active("p1") },
		time.Second, 10*time.Millisecond, "registration is removed when the watcher returns")

	// A fresh watcher can start once the old one is gone.
	done := make(chan struct{})
	require.True(t, r.Track("p1", func(ctx context.Context) { close(done) }))
	<-done
}

func TestStopCancelsWatcher(t *testing.T) {
	r := NewRegistry()

	cancelled := make(chan struct{})
	require.True(t, r.Track("p1", func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	}))

	r.Stop("p1")
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("watcher context was not cancelled")
	}
}

func TestStopAll(t *testing.T) {
	r := NewRegistry()

	done := make(chan string, 2)
	for _, id := range []string{"p1", "p2"} {
		id := id
		require.True(t, r.Track(id, func(ctx context.Context) {
			<-ctx.Done()
			done <- id
		}))
	}

	r.StopAll()
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-done:
			got[id] = true
		case <-time.After(time.Second):
			t.Fatal("not all watchers stopped")
		}
	}
	assert.True(t, got["p1"] && got["p2"])
}

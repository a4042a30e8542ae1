package sketch

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/Cadence/internal/scheduler"
)

func TestWatch_ReloadsOnWrite(t *testing.T) {
	h := newHarness(t)
	path := h.writeFile("live.js", `globalThis.version = 1;`)

	ctx, cancel := context.WithCancel(h.ctx)
	watchErr := make(chan error, 1)
	go func() { watchErr <- h.runner.Watch(ctx, path) }()

	// Give the watcher time to register before the write.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`globalThis.version = 2;`), 0644))

	require.Eventually(t, func() bool {
		return h.state() == scheduler.Running
	}, 5*time.Second, 20*time.Millisecond)
	assert.EqualValues(t, 2, h.global("version"))
	assert.Equal(t, path, h.runner.Current().Path)

	cancel()
	select {
	case err := <-watchErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	h := newHarness(t)
	path := h.writeFile("live.js", `globalThis.version = 1;`)

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	go func() { _ = h.runner.Watch(ctx, path) }()

	time.Sleep(100 * time.Millisecond)
	h.writeFile("other.js", `globalThis.version = 3;`)
	time.Sleep(3 * watchDebounce)

	assert.Equal(t, scheduler.Ready, h.state())
	assert.Nil(t, h.runner.Current())
}

func TestWatch_MissingDirectory(t *testing.T) {
	h := newHarness(t)
	err := h.runner.Watch(h.ctx, "/definitely/not/here/live.js")
	assert.Error(t, err)
}

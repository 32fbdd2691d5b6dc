// internal/browser/session/session_test.go
package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xkilldash9x/autoapply/internal/config"
)

func TestAllocatorOptions(t *testing.T) {
	base := len(AllocatorOptions(config.BrowserConfig{}))

	cfg := config.BrowserConfig{
		Headless:     true,
		ExecPath:     "/usr/bin/chromium",
		UserDataDir:  "/tmp/profile",
		WindowWidth:  1280,
		WindowHeight: 900,
		Args:         []string{"--disable-dev-shm-usage", "lang=en-US"},
	}
	assert.Equal(t, base+6, len(AllocatorOptions(cfg)))

	cfg.WindowHeight = 0
	assert.Equal(t, base+5, len(AllocatorOptions(cfg)), "a window size needs both dimensions")
}

func TestBuildHelpers(t *testing.T) {
	helpers, err := buildHelpers()
	require.NoError(t, err)
	script := helpers.Script()
	assert.NotContains(t, script, "AUTOAPPLY_HELPER_CONFIG")
	assert.Contains(t, script, `"namespace":"__autoapply"`)
	assert.Contains(t, script, `"hiddenAttr":"data-aa-hidden"`)

	call, err := helpers.Call("snapshot")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(call, "window.__autoapply.snapshot()"))
}

func TestCombineContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	type key string
	tab := context.WithValue(context.Background(), key("target"), "tab-1")

	t.Run("Inherits tab values", func(t *testing.T) {
		ctx, cancel := CombineContext(tab, context.Background())
		defer cancel()
		assert.Equal(t, "tab-1", ctx.Value(key("target")))
		assert.NoError(t, ctx.Err())
	})

	t.Run("Cancelled by operation", func(t *testing.T) {
		op, cancelOp := context.WithCancel(context.Background())
		ctx, cancel := CombineContext(tab, op)
		defer cancel()
		cancelOp()
		assert.Eventually(t, func() bool { return ctx.Err() != nil }, time.Second, 5*time.Millisecond)
	})

	t.Run("Inherits operation deadline", func(t *testing.T) {
		op, cancelOp := context.WithTimeout(context.Background(), time.Minute)
		defer cancelOp()
		ctx, cancel := CombineContext(tab, op)
		defer cancel()
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		want, _ := op.Deadline()
		assert.Equal(t, want, deadline)
	})

	t.Run("Detach ignores cancellation", func(t *testing.T) {
		parent, cancelParent := context.WithCancel(tab)
		cancelParent()
		d := Detach(parent)
		assert.NoError(t, d.Err())
		assert.Nil(t, d.Done())
		assert.Equal(t, "tab-1", d.Value(key("target")))
	})
}

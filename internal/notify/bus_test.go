package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCurrentVersion_UnknownTopicIsZero(t *testing.T) {
	b := New()
	assert.Equal(t, int64(0), b.CurrentVersion("nope"))
}

func TestNotify_IncrementsVersion(t *testing.T) {
	b := New()
	b.Notify("topic")
	assert.Equal(t, int64(1), b.CurrentVersion("topic"))
	b.Notify("topic")
	assert.Equal(t, int64(2), b.CurrentVersion("topic"))
}

func TestWaitForChange_ReturnsTrueWhenAlreadyAhead(t *testing.T) {
	b := New()
	b.Notify("topic")
	ctx := context.Background()
	changed := b.WaitForChange(ctx, "topic", time.Second, 0)
	assert.True(t, changed)
}

func TestWaitForChange_TimesOutWithNoNotify(t *testing.T) {
	b := New()
	ctx := context.Background()
	changed := b.WaitForChange(ctx, "topic", 20*time.Millisecond, 0)
	assert.False(t, changed)
}

func TestWaitForChange_WakesOnNotify(t *testing.T) {
	b := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	var changed bool
	go func() {
		defer wg.Done()
		changed = b.WaitForChange(ctx, "topic", time.Second, 0)
	}()

	time.Sleep(20 * time.Millisecond)
	b.Notify("topic")
	wg.Wait()
	assert.True(t, changed)
}

func TestWaitForChange_ReturnsFalseWhenContextCanceled(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	changed := b.WaitForChange(ctx, "topic", time.Second, 0)
	assert.False(t, changed)
}

func TestCleanup_ResetsTopicVersion(t *testing.T) {
	b := New()
	b.Notify("topic")
	b.Cleanup("topic")
	assert.Equal(t, int64(0), b.CurrentVersion("topic"))
}

package infra

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSuppressionRegistry_Window(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := NewSuppressionRegistryWithClock(clock.Now, zap.NewNop())

	s.Suppress("/tmp/restored.bin", 10*time.Second)
	assert.True(t, s.IsSuppressed("/tmp/restored.bin"))
	assert.True(t, s.IsSuppressed("/tmp/./restored.bin"), "paths are normalized")
	assert.False(t, s.IsSuppressed("/tmp/other.bin"))

	clock.Advance(9 * time.Second)
	assert.True(t, s.IsSuppressed("/tmp/restored.bin"))

	clock.Advance(time.Second)
	assert.False(t, s.IsSuppressed("/tmp/restored.bin"))
	assert.Equal(t, 0, s.Len(), "expired window is dropped on lookup")
}

func TestSuppressionRegistry_Clear(t *testing.T) {
	s := NewSuppressionRegistry(zap.NewNop())

	s.Suppress("/tmp/a", time.Minute)
	s.ClearSuppression("/tmp/a")
	s.ClearSuppression("/tmp/never-suppressed")

	assert.False(t, s.IsSuppressed("/tmp/a"))
}

func TestSuppressionRegistry_DefaultTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := NewSuppressionRegistryWithClock(clock.Now, zap.NewNop())

	s.Suppress("/tmp/a", 0)
	clock.Advance(DefaultSuppressionTTL - time.Second)
	assert.True(t, s.IsSuppressed("/tmp/a"))
}

func TestSuppressionRegistry_PruneAndOnChange(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := NewSuppressionRegistryWithClock(clock.Now, zap.NewNop())

	var last int
	s.OnChange(func(active int) { last = active })

	s.Suppress("/tmp/short", time.Second)
	s.Suppress("/tmp/long", time.Hour)
	assert.Equal(t, 2, last)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, s.Prune())
	assert.Equal(t, 1, last)
	assert.Equal(t, 0, s.Prune())
}

func TestSuppressionRegistry_Concurrent(t *testing.T) {
	s := NewSuppressionRegistry(zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Suppress("/tmp/shared", time.Minute)
			_ = s.IsSuppressed("/tmp/shared")
			s.Prune()
		}()
	}
	wg.Wait()

	assert.True(t, s.IsSuppressed("/tmp/shared"))
}

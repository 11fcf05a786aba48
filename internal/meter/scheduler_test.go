package meter

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeSchedulerEvery(t *testing.T) {
	var n atomic.Int32
	cancel := TimeScheduler{}.Every(5*time.Millisecond, func() { n.Add(1) })

	assert.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	cancel()

	stopped := n.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, n.Load(), stopped+1, "at most one tick in flight after cancel")
}

func TestTimeSchedulerAfter(t *testing.T) {
	fired := make(chan struct{}, 1)
	TimeScheduler{}.After(time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("After callback did not fire")
	}
}

func TestTimeSchedulerAfterCancelled(t *testing.T) {
	var fired atomic.Bool
	cancel := TimeScheduler{}.After(20*time.Millisecond, func() { fired.Store(true) })
	cancel()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}

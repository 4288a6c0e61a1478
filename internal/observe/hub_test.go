package observe

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHubDeliversInSubscriptionOrder(t *testing.T) {
	var h Hub[int]
	var got []string
	h.Subscribe(func(v int) { got = append(got, "a") })
	unsub := h.Subscribe(func(v int) { got = append(got, "b") })

	h.Publish(1)
	unsub()
	unsub()
	h.Publish(2)

	assert.Equal(t, []string{"a", "b", "a"}, got)
}

func TestHubSerializesBatches(t *testing.T) {
	var h Hub[int]
	var mu sync.Mutex
	var got []int
	h.Subscribe(func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.Publish(i*2, i*2+1)
		}(i)
	}
	wg.Wait()

	assert.Len(t, got, 100)
	for i := 0; i < len(got); i += 2 {
		assert.Equal(t, got[i]+1, got[i+1], "batch split at %d", i)
	}
}

func TestValueNotifiesOnlyOnChange(t *testing.T) {
	var v Value[bool]
	calls := 0
	v.Subscribe(func(bool) { calls++ })

	v.Set(false)
	v.Set(true)
	v.Set(true)
	v.Set(false)

	assert.Equal(t, 2, calls)
	assert.False(t, v.Get())
}

func TestHandlerMayPublishToItsOwnHub(t *testing.T) {
	var h Hub[int]
	var got []int
	h.Subscribe(func(v int) {
		got = append(got, v)
		if v < 3 {
			h.Publish(v + 1)
		}
	})

	h.Publish(1)

	assert.Equal(t, []int{1, 2, 3}, got)
}

// A handler that takes a container lock while another goroutine mutates the
// container under that lock must not stall either side.
func TestHandlerMayReadLockedContainer(t *testing.T) {
	var (
		mu    sync.Mutex
		state int
		h     Hub[int]
	)
	h.Subscribe(func(int) {
		mu.Lock()
		_ = state
		mu.Unlock()
	})
	mutate := func(i int) {
		mu.Lock()
		state = i
		h.Enqueue(i)
		mu.Unlock()
		h.Flush()
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				mutate(i)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("mutators stalled")
	}
}

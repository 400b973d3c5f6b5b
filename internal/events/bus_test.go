package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus[int]()
	var got []string

	bus.Subscribe(func(v int) { got = append(got, "a") })
	bus.Subscribe(func(v int) { got = append(got, "b") })

	bus.Publish(1)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus[CollectionUpdate]()
	var count int

	unsub := bus.Subscribe(func(u CollectionUpdate) { count++ })
	bus.Publish(CollectionUpdate{Game: "pick3"})
	unsub()
	unsub() // idempotent
	bus.Publish(CollectionUpdate{Game: "pick3"})

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, bus.Len())
}

func TestBusClose(t *testing.T) {
	bus := NewBus[AppError]()
	var count int
	bus.Subscribe(func(AppError) { count++ })

	bus.Close()
	bus.Publish(AppError{Message: "dropped"})
	bus.Subscribe(func(AppError) { count++ })
	bus.Publish(AppError{Message: "dropped"})

	assert.Equal(t, 0, count)
	assert.Equal(t, 0, bus.Len())
}

func TestBusIsolatedInstances(t *testing.T) {
	a, b := NewBuses(), NewBuses()
	var fromA int
	a.Collections.Subscribe(func(CollectionUpdate) { fromA++ })

	b.Collections.Publish(CollectionUpdate{Game: "pick3"})
	assert.Equal(t, 0, fromA)

	a.Collections.Publish(CollectionUpdate{Game: "pick3"})
	assert.Equal(t, 1, fromA)
}

func TestBusConcurrentPublish(t *testing.T) {
	bus := NewBus[int]()
	var mu sync.Mutex
	total := 0
	bus.Subscribe(func(v int) {
		mu.Lock()
		total += v
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(2)
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, total)
}

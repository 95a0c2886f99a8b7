package events

import (
	"sync"
	"testing"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	counter := NewTopic[int]("counter")
	names := NewTopic[string]("names")

	var got []int
	Subscribe(bus, counter, func(v int) { got = append(got, v) })
	Subscribe(bus, counter, func(v int) { got = append(got, v*10) })

	var gotName string
	Subscribe(bus, names, func(s string) { gotName = s })

	Publish(bus, counter, 1)
	Publish(bus, names, "kiki")

	if len(got) != 2 || got[0] != 1 || got[1] != 10 {
		t.Errorf("got = %v, want [1 10]", got)
	}
	if gotName != "kiki" {
		t.Errorf("gotName = %q", gotName)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	topic := NewTopic[struct{}]("ping")

	calls := 0
	unsubscribe := Subscribe(bus, topic, func(struct{}) { calls++ })
	Publish(bus, topic, struct{}{})
	unsubscribe()
	unsubscribe()
	Publish(bus, topic, struct{}{})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if bus.Len("ping") != 0 {
		t.Errorf("Len() = %d, want 0", bus.Len("ping"))
	}
}

func TestPublishNilBus(t *testing.T) {
	Publish(nil, NewTopic[int]("x"), 1)
}

func TestHandlerMaySubscribeDuringPublish(t *testing.T) {
	bus := NewBus()
	topic := NewTopic[int]("reentrant")

	Subscribe(bus, topic, func(int) {
		Subscribe(bus, topic, func(int) {})
	})
	Publish(bus, topic, 1)

	if bus.Len("reentrant") != 2 {
		t.Errorf("Len() = %d, want 2", bus.Len("reentrant"))
	}
}

func TestConcurrentPublish(t *testing.T) {
	bus := NewBus()
	topic := NewTopic[int]("n")

	var mu sync.Mutex
	sum := 0
	Subscribe(bus, topic, func(v int) {
		mu.Lock()
		sum += v
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			Publish(bus, topic, v)
		}(i)
	}
	wg.Wait()

	if sum != 1275 {
		t.Errorf("sum = %d, want 1275", sum)
	}
}

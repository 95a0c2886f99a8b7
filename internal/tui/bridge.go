package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/diogo/kiki/internal/conversation"
	"github.com/diogo/kiki/internal/events"
	"github.com/diogo/kiki/internal/models"
)

type (
	messagesMsg     []models.Message
	statusMsg       models.Status
	modelChangedMsg string
	inputChangedMsg models.OperationType
	newChatMsg      struct{}
	focusMsg        struct{}
)

// bridge forwards session bus events into the bubbletea loop. Controller
// publishes happen on command goroutines and on Update itself (SetInput), so
// send only queues and never blocks. State snapshots keep their latest value:
// a newer one replaces the queued one and moves to the tail.
type bridge struct {
	mu     sync.Mutex
	queue  []tea.Msg
	ready  chan struct{}
	done   chan struct{}
	once   sync.Once
	unsubs []func()
}

func newBridge(bus *events.Bus) *bridge {
	b := &bridge{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	b.unsubs = []func(){
		events.Subscribe(bus, conversation.TopicMessages, func(msgs []models.Message) { b.send(messagesMsg(msgs)) }),
		events.Subscribe(bus, conversation.TopicStatus, func(s models.Status) { b.send(statusMsg(s)) }),
		events.Subscribe(bus, conversation.TopicModel, func(id string) { b.send(modelChangedMsg(id)) }),
		events.Subscribe(bus, conversation.TopicInput, func(op models.OperationType) { b.send(inputChangedMsg(op)) }),
		events.Subscribe(bus, conversation.TopicNewChat, func(struct{}) { b.send(newChatMsg{}) }),
		events.Subscribe(bus, conversation.TopicFocusComposer, func(struct{}) { b.send(focusMsg{}) }),
	}
	return b
}

// sameState reports whether a and b are snapshots of the same state.
func sameState(a, b tea.Msg) bool {
	switch a.(type) {
	case messagesMsg:
		_, ok := b.(messagesMsg)
		return ok
	case statusMsg:
		_, ok := b.(statusMsg)
		return ok
	case modelChangedMsg:
		_, ok := b.(modelChangedMsg)
		return ok
	case inputChangedMsg:
		_, ok := b.(inputChangedMsg)
		return ok
	}
	return false
}

func (b *bridge) send(msg tea.Msg) {
	select {
	case <-b.done:
		return
	default:
	}

	b.mu.Lock()
	for i, queued := range b.queue {
		if sameState(queued, msg) {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			break
		}
	}
	b.queue = append(b.queue, msg)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *bridge) pop() (tea.Msg, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil, false
	}
	msg := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	return msg, true
}

// wait returns a command yielding the next bus event. It must be reissued
// after each event.
func (b *bridge) wait() tea.Cmd {
	return func() tea.Msg {
		for {
			select {
			case <-b.done:
				return nil
			default:
			}
			if msg, ok := b.pop(); ok {
				return msg
			}
			select {
			case <-b.ready:
			case <-b.done:
				return nil
			}
		}
	}
}

func (b *bridge) close() {
	b.once.Do(func() {
		close(b.done)
		for _, unsub := range b.unsubs {
			unsub()
		}
	})
}

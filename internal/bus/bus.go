// Package bus fans store and watch notifications out to in-process
// listeners. The IPC server subscribes to file-change and forwards it to the
// GUI; tests and tooling subscribe to the run.* topics.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 100

// Event is one notification. Exactly one of the payload fields is set,
// matching the topic family.
type Event struct {
	Topic string
	File  *FileChangeEvent // TopicFileChange
	Run   *RunEvent        // TopicRunAdded, TopicRunDeleted
	Log   *RunLogEvent     // TopicRunLogAdded
}

// Subscription receives events whose topic starts with its prefix.
type Subscription struct {
	id      int
	prefix  string
	ch      chan Event
	dropped atomic.Int64
}

func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Dropped counts events discarded because the subscriber's buffer was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscription) matches(topic string) bool {
	return s.prefix == "" || strings.HasPrefix(topic, s.prefix)
}

// Bus is safe for concurrent use. Publishing on a nil *Bus is a no-op so
// the store and watch registry can run without listeners.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe registers for topics starting with prefix; "" matches all. The
// buffer holds 100 events and publishing never blocks on a slow reader.
func (b *Bus) Subscribe(prefix string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		prefix: prefix,
		ch:     make(chan Event, defaultBufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel. It is idempotent.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// PublishFileChange reports a filesystem event on a watched path.
func (b *Bus) PublishFileChange(ev FileChangeEvent) {
	b.publish(Event{Topic: TopicFileChange, File: &ev})
}

// PublishRunAdded reports a newly stored run.
func (b *Bus) PublishRunAdded(ev RunEvent) {
	b.publish(Event{Topic: TopicRunAdded, Run: &ev})
}

// PublishRunDeleted reports a run removed together with its logs.
func (b *Bus) PublishRunDeleted(ev RunEvent) {
	b.publish(Event{Topic: TopicRunDeleted, Run: &ev})
}

// PublishRunLogAdded reports a log line appended to a run.
func (b *Bus) PublishRunLogAdded(ev RunLogEvent) {
	b.publish(Event{Topic: TopicRunLogAdded, Log: &ev})
}

func (b *Bus) publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.matches(ev.Topic) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

package signal

import (
	"slices"
	"sync"
	"time"

	"github.com/dkeye/chatlink/internal/domain"
)

const DefaultTypingTTL = 3 * time.Second

type typingKey struct {
	channel  domain.ChannelID
	username string
}

// TypingTracker keeps per-channel typing sets where every username expires
// on its own timer.
type TypingTracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	publish func(domain.ChannelID, []string)
	timers  map[typingKey]*time.Timer
	names   map[domain.ChannelID][]string
}

func NewTypingTracker(ttl time.Duration, publish func(domain.ChannelID, []string)) *TypingTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingTracker{
		ttl:     ttl,
		publish: publish,
		timers:  make(map[typingKey]*time.Timer),
		names:   make(map[domain.ChannelID][]string),
	}
}

// Touch adds username to the channel's set, or restarts its timer if present.
func (t *TypingTracker) Touch(ch domain.ChannelID, username string) {
	key := typingKey{channel: ch, username: username}
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.timers[key]; ok {
		old.Stop()
	} else {
		t.names[ch] = append(t.names[ch], username)
		t.publish(ch, slices.Clone(t.names[ch]))
	}
	var timer *time.Timer
	timer = time.AfterFunc(t.ttl, func() { t.expire(key, timer) })
	t.timers[key] = timer
}

func (t *TypingTracker) expire(key typingKey, timer *time.Timer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timers[key] != timer {
		return
	}
	delete(t.timers, key)
	names := slices.DeleteFunc(t.names[key.channel], func(n string) bool { return n == key.username })
	if len(names) == 0 {
		delete(t.names, key.channel)
	} else {
		t.names[key.channel] = names
	}
	t.publish(key.channel, slices.Clone(names))
}

// Stop cancels every pending timer without publishing.
func (t *TypingTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
	clear(t.names)
}

// Package store holds a threadsafe in-memory application state.
package store

import (
	"cmp"
	"slices"
	"sync"

	"github.com/dkeye/chatlink/internal/core"
	"github.com/dkeye/chatlink/internal/domain"
	"github.com/rs/zerolog/log"
)

// Memory implements core.NavigableStore. It never talks to the network.
type Memory struct {
	mu sync.RWMutex

	active   domain.ChannelID
	visible  []domain.Message
	dms      map[domain.DMID][]domain.Message
	unread   map[domain.ChannelID]int
	typing   map[domain.ChannelID][]string
	rosters  map[domain.ChannelID]map[domain.UserID]domain.VoiceParticipant
	counts   map[domain.ChannelID]int
	signals  []core.Envelope
	// messages indexes everything currently held, for id dedupe.
	messages map[domain.MessageID]domain.Message
}

var _ core.NavigableStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		dms:      make(map[domain.DMID][]domain.Message),
		unread:   make(map[domain.ChannelID]int),
		typing:   make(map[domain.ChannelID][]string),
		rosters:  make(map[domain.ChannelID]map[domain.UserID]domain.VoiceParticipant),
		counts:   make(map[domain.ChannelID]int),
		messages: make(map[domain.MessageID]domain.Message),
	}
}

// SetActiveChannel switches the visible list and clears the channel's unread counter.
func (m *Memory) SetActiveChannel(ch domain.ChannelID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == ch {
		return
	}
	m.active = ch
	for _, msg := range m.visible {
		delete(m.messages, msg.ID)
	}
	m.visible = nil
	delete(m.unread, ch)
	log.Debug().Str("module", "store").Int64("channel", int64(ch)).Msg("active channel")
}

func (m *Memory) ActiveChannel() domain.ChannelID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

func (m *Memory) HasMessage(id domain.MessageID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.messages[id]
	return ok
}

func (m *Memory) AppendMessage(msg domain.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[msg.ID]; ok {
		return
	}
	m.messages[msg.ID] = msg
	m.visible = append(m.visible, msg)
}

func (m *Memory) AppendMessageForChannel(dm domain.DMID, msg domain.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[msg.ID]; ok {
		return
	}
	m.messages[msg.ID] = msg
	m.dms[dm] = append(m.dms[dm], msg)
}

func (m *Memory) UpdateMessage(msg domain.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	replace := func(list []domain.Message) {
		for i := range list {
			if list[i].ID == msg.ID {
				list[i] = msg
			}
		}
	}
	replace(m.visible)
	for _, list := range m.dms {
		replace(list)
	}
	if _, ok := m.messages[msg.ID]; ok {
		m.messages[msg.ID] = msg
	}
}

func (m *Memory) RemoveMessage(_ domain.ChannelID, id domain.MessageID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := func(msg domain.Message) bool { return msg.ID == id }
	m.visible = slices.DeleteFunc(m.visible, drop)
	for dm, list := range m.dms {
		m.dms[dm] = slices.DeleteFunc(list, drop)
	}
	delete(m.messages, id)
}

func (m *Memory) IncrementUnread(ch domain.ChannelID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unread[ch]++
}

func (m *Memory) SetTypingUsers(ch domain.ChannelID, usernames []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(usernames) == 0 {
		delete(m.typing, ch)
		return
	}
	m.typing[ch] = slices.Clone(usernames)
}

func (m *Memory) SetVoiceSnapshot(ch domain.ChannelID, users []domain.VoiceParticipant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	roster := make(map[domain.UserID]domain.VoiceParticipant, len(users))
	for _, u := range users {
		roster[u.UserID] = u
	}
	m.rosters[ch] = roster
}

func (m *Memory) SetVoiceUser(ch domain.ChannelID, p domain.VoiceParticipant) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	roster, ok := m.rosters[ch]
	if !ok {
		roster = make(map[domain.UserID]domain.VoiceParticipant)
		m.rosters[ch] = roster
	}
	_, present := roster[p.UserID]
	roster[p.UserID] = p
	return !present
}

func (m *Memory) SetVoiceUserFlags(ch domain.ChannelID, id domain.UserID, flags domain.VoiceFlags) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rosters[ch][id]
	if !ok {
		return
	}
	m.rosters[ch][id] = p.WithFlags(flags)
}

func (m *Memory) RemoveVoiceUser(ch domain.ChannelID, id domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rosters[ch][id]; !ok {
		return false
	}
	delete(m.rosters[ch], id)
	return true
}

func (m *Memory) SetChannelVoiceCount(ch domain.ChannelID, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[ch] = max(n, 0)
}

func (m *Memory) AdjustChannelVoiceCount(ch domain.ChannelID, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[ch] = max(m.counts[ch]+delta, 0)
}

func (m *Memory) PushVoiceSignal(env core.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, env)
}

func (m *Memory) ConsumeVoiceSignals() []core.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.signals
	m.signals = nil
	return out
}

// Read side used by the control API and tests.

func (m *Memory) Messages() []domain.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.visible)
}

func (m *Memory) DMMessages(dm domain.DMID) []domain.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.dms[dm])
}

func (m *Memory) Unread(ch domain.ChannelID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unread[ch]
}

func (m *Memory) TypingUsers(ch domain.ChannelID) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.typing[ch])
}

// VoiceRoster returns the roster ordered by user id.
func (m *Memory) VoiceRoster(ch domain.ChannelID) []domain.VoiceParticipant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.VoiceParticipant, 0, len(m.rosters[ch]))
	for _, p := range m.rosters[ch] {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.VoiceParticipant) int { return cmp.Compare(a.UserID, b.UserID) })
	return out
}

func (m *Memory) VoiceCount(ch domain.ChannelID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[ch]
}

func (m *Memory) PendingSignals() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.signals)
}

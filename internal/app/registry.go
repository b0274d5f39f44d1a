package app

import (
	"sync"

	"github.com/dkeye/chatlink/internal/core"
	"github.com/dkeye/chatlink/internal/domain"
	"github.com/rs/zerolog/log"
)

type SinkFactory func(remote domain.UserID) core.AudioSink

// Registry maps remote participants to their audio sinks.
// Sinks are created on first use, reused on renegotiation, and disposed explicitly.
type Registry struct {
	mu      sync.RWMutex
	sinks   map[domain.UserID]core.AudioSink
	newSink SinkFactory
}

func NewRegistry(newSink SinkFactory) *Registry {
	return &Registry{
		sinks:   make(map[domain.UserID]core.AudioSink),
		newSink: newSink,
	}
}

// Sink returns the existing sink for remote or creates one.
func (r *Registry) Sink(remote domain.UserID) core.AudioSink {
	r.mu.RLock()
	s, ok := r.sinks[remote]
	r.mu.RUnlock()
	if ok {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.sinks[remote]; ok {
		return s
	}
	s = r.newSink(remote)
	r.sinks[remote] = s
	log.Info().Str("module", "app.registry").Int64("remote", int64(remote)).Str("sink", s.ID()).Msg("created sink")
	return s
}

func (r *Registry) Lookup(remote domain.UserID) (core.AudioSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sinks[remote]
	return s, ok
}

// Dispose closes and forgets the sink of remote. It reports whether one existed.
func (r *Registry) Dispose(remote domain.UserID) bool {
	r.mu.Lock()
	s, ok := r.sinks[remote]
	delete(r.sinks, remote)
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.Close()
	log.Info().Str("module", "app.registry").Int64("remote", int64(remote)).Str("sink", s.ID()).Msg("disposed sink")
	return true
}

func (r *Registry) DisposeAll() int {
	r.mu.Lock()
	sinks := r.sinks
	r.sinks = make(map[domain.UserID]core.AudioSink)
	r.mu.Unlock()
	for _, s := range sinks {
		s.Close()
	}
	return len(sinks)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

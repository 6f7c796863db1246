// internal/chatsync/playback.go
// Tracks which voice message is currently playing for a session, enforcing
// that starting one stops whatever was playing before.

package chatsync

import "sync"

// Playback is the per-session voice playback registry. Safe for concurrent
// use; it lives outside the engine loop because playback progress is driven
// by the media pipeline, not by message events.
type Playback struct {
	mu      sync.Mutex
	current string
	onStop  func(messageID string)
}

// NewPlayback builds a registry. onStop fires for the previously playing
// message whenever another one starts or everything is released; it may be
// nil.
func NewPlayback(onStop func(messageID string)) *Playback {
	return &Playback{onStop: onStop}
}

// Start marks the message as playing, stopping the previous one if any.
// Returns false when the message was already the active one.
func (p *Playback) Start(messageID string) bool {
	p.mu.Lock()
	previous := p.current
	if previous == messageID {
		p.mu.Unlock()
		return false
	}
	p.current = messageID
	p.mu.Unlock()

	if previous != "" && p.onStop != nil {
		p.onStop(previous)
	}
	return true
}

// Stop releases the message if it is the active one
func (p *Playback) Stop(messageID string) {
	p.mu.Lock()
	if p.current == messageID {
		p.current = ""
	}
	p.mu.Unlock()
}

// Current reports the active message id, empty when nothing plays
func (p *Playback) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// ReleaseAll stops playback entirely, e.g. on conversation switch
func (p *Playback) ReleaseAll() {
	p.mu.Lock()
	previous := p.current
	p.current = ""
	p.mu.Unlock()

	if previous != "" && p.onStop != nil {
		p.onStop(previous)
	}
}

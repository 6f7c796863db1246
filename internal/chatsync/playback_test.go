package chatsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlaybackSingleActive(t *testing.T) {
	var stopped []string
	p := NewPlayback(func(id string) { stopped = append(stopped, id) })

	assert.True(t, p.Start("v1"))
	assert.Equal(t, "v1", p.Current())
	assert.Empty(t, stopped)

	// Starting another stops the first
	assert.True(t, p.Start("v2"))
	assert.Equal(t, "v2", p.Current())
	assert.Equal(t, []string{"v1"}, stopped)

	// Restarting the active one is a no-op
	assert.False(t, p.Start("v2"))
	assert.Equal(t, []string{"v1"}, stopped)
}

func TestPlaybackStop(t *testing.T) {
	p := NewPlayback(nil)
	p.Start("v1")

	// Stopping a different id leaves the active one alone
	p.Stop("v9")
	assert.Equal(t, "v1", p.Current())

	p.Stop("v1")
	assert.Empty(t, p.Current())
}

func TestPlaybackReleaseAll(t *testing.T) {
	var stopped []string
	p := NewPlayback(func(id string) { stopped = append(stopped, id) })

	p.ReleaseAll()
	assert.Empty(t, stopped, "nothing playing, nothing to stop")

	p.Start("v1")
	p.ReleaseAll()
	assert.Empty(t, p.Current())
	assert.Equal(t, []string{"v1"}, stopped)
}

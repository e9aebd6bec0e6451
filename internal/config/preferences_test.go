package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFeedBehavior(t *testing.T) {
	for _, b := range []FeedBehavior{FeedBehaviorEverywhere, FeedBehaviorOnlyInBounds, FeedBehaviorCrop} {
		got, err := ParseFeedBehavior(b.String())
		require.NoError(t, err)
		assert.Equal(t, b, got)
	}
	got, err := ParseFeedBehavior(" In_Bounds ")
	require.NoError(t, err)
	assert.Equal(t, FeedBehaviorOnlyInBounds, got)

	_, err = ParseFeedBehavior("nowhere")
	assert.Error(t, err)
}

func TestPreferences_Subscribe(t *testing.T) {
	p := NewPreferences(nil)
	assert.Equal(t, FeedBehaviorOnlyInBounds, p.CalibratedFeedBehavior())
	assert.True(t, p.ShowArenaShotMarkers())

	calls := 0
	unsubscribe := p.Subscribe(func() { calls++ })

	p.SetShowArenaShotMarkers(false)
	p.SetShowArenaShotMarkers(false) // unchanged, no notification
	p.SetCalibratedFeedBehavior(FeedBehaviorCrop)
	assert.Equal(t, 2, calls)
	assert.False(t, p.ShowArenaShotMarkers())
	assert.Equal(t, FeedBehaviorCrop, p.CalibratedFeedBehavior())

	unsubscribe()
	p.SetShowArenaShotMarkers(true)
	assert.Equal(t, 2, calls)
}

func TestPreferences_CallbackMayReadPreferences(t *testing.T) {
	p := NewPreferences(DefaultArenaConfig())
	var seen bool
	p.Subscribe(func() { seen = p.ShowArenaShotMarkers() })
	p.SetShowArenaShotMarkers(false)
	p.SetShowArenaShotMarkers(true)
	assert.True(t, seen)
}

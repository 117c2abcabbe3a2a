package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestPresenceSweepExpiry(t *testing.T) {
	ctx := context.Background()
	tracker := NewPresenceTracker(ctx, nil, DefaultPresenceSettings())
	defer tracker.Close()

	userId := testId(1)
	t0 := time.Now()

	tracker.upsert(&PresencePayload{
		ProjectId: testId(100),
		UserId:    userId,
		Cursor:    &Point{X: 10, Y: 20},
	}, t0)
	assert.Equal(t, 1, len(tracker.Entries()))

	// a sweep inside the liveness window keeps the entry
	tracker.sweep(t0.Add(14 * time.Second))
	assert.Equal(t, 1, len(tracker.Entries()))

	// last message at t=0, sweep at t=16s with no further messages: purged
	tracker.sweep(t0.Add(16 * time.Second))
	assert.Equal(t, 0, len(tracker.Entries()))
}

func TestPresenceRefreshExtendsLiveness(t *testing.T) {
	ctx := context.Background()
	tracker := NewPresenceTracker(ctx, nil, DefaultPresenceSettings())
	defer tracker.Close()

	userId := testId(1)
	t0 := time.Now()

	tracker.upsert(&PresencePayload{UserId: userId, Cursor: &Point{X: 1, Y: 1}}, t0)
	// cursor-only refresh at t=10s
	tracker.upsert(&PresencePayload{UserId: userId, Cursor: &Point{X: 2, Y: 2}}, t0.Add(10*time.Second))

	// sweep at t=16s: 6s since last message, entry survives
	tracker.sweep(t0.Add(16 * time.Second))
	assert.Equal(t, 1, len(tracker.Entries()))

	// sweep at t=26s: 16s since last message, purged
	tracker.sweep(t0.Add(26 * time.Second))
	assert.Equal(t, 0, len(tracker.Entries()))
}

func TestPresenceUpsertRefreshesEverything(t *testing.T) {
	ctx := context.Background()
	tracker := NewPresenceTracker(ctx, nil, DefaultPresenceSettings())
	defer tracker.Close()

	userId := testId(1)
	selection := testId(2)
	t0 := time.Now()

	tracker.upsert(&PresencePayload{UserId: userId, Cursor: &Point{X: 1, Y: 1}}, t0)
	entry := tracker.Entries()[0]
	color := entry.Color
	assert.Equal(t, (*Id)(nil), entry.Selection)

	tracker.upsert(&PresencePayload{UserId: userId, Selection: &selection}, t0.Add(time.Second))
	entry = tracker.Entries()[0]
	assert.Equal(t, &selection, entry.Selection)
	assert.Equal(t, t0.Add(time.Second), entry.LastSeenTime)
	// color is fixed once per user per session
	assert.Equal(t, color, entry.Color)
}

func TestColorForUserStable(t *testing.T) {
	userId := testId(42)
	color := ColorForUser(userId)
	// deterministic before any entry exists
	assert.Equal(t, color, ColorForUser(userId))

	found := false
	for _, paletteColor := range presencePalette {
		if paletteColor == color {
			found = true
		}
	}
	assert.Equal(t, true, found)
}

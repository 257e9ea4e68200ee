package stickykeeper

import (
	"github.com/stretchr/testify/assert"
	"testing"
	"time"
)

// TestRepostSchedulerDebounce verifies the cooldown math: with a
// cooldown of 3 units and a sticky created at t0, a trigger at t0+1
// defers for the remaining 2 units, and a trigger at t0+4 fires
// immediately.
func TestRepostSchedulerDebounce(t *testing.T) {
	unit := time.Minute
	scheduler := RepostScheduler{Cooldown: 3 * unit}
	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := &StickyRecord{
		ChannelID: "chan",
		MessageID: "sticky-1",
		PostedAt:  t0.UnixMilli(),
	}
	trigger := Trigger{
		Kind:      TriggerNewMessage,
		MessageID: "user-1",
		CreatedAt: t0.Add(unit),
	}

	early := scheduler.Decide(rec, trigger, t0, t0.Add(unit))
	assert.Equal(t, DecideDefer, early.Kind)
	assert.Equal(t, 2*unit, early.Wait)

	late := scheduler.Decide(rec, trigger, t0, t0.Add(4*unit))
	assert.Equal(t, DecideNow, late.Kind)

	boundary := scheduler.Decide(rec, trigger, t0, t0.Add(3*unit))
	assert.Equal(t, DecideNow, boundary.Kind)
}

func TestRepostSchedulerBootstrap(t *testing.T) {
	scheduler := RepostScheduler{Cooldown: 3 * time.Minute}
	now := time.Now()

	decision := scheduler.Decide(
		nil,
		Trigger{Kind: TriggerFreshSubmission},
		time.Time{},
		now,
	)
	assert.Equal(t, DecideNow, decision.Kind)

	decision = scheduler.Decide(
		&StickyRecord{ChannelID: "chan"},
		Trigger{Kind: TriggerNewMessage, MessageID: "user-1"},
		time.Time{},
		now,
	)
	assert.Equal(t, DecideNow, decision.Kind)
}

func TestRepostSchedulerStaleDeletion(t *testing.T) {
	scheduler := RepostScheduler{Cooldown: 3 * time.Minute}
	t0 := time.Now().Add(-time.Hour)
	rec := &StickyRecord{
		ChannelID: "chan",
		MessageID: "sticky-1",
		PostedAt:  t0.UnixMilli(),
	}

	// deletion of something other than the recorded sticky is stale
	decision := scheduler.Decide(
		rec,
		Trigger{Kind: TriggerStickyDeleted, MessageID: "other-message"},
		t0,
		time.Now(),
	)
	assert.Equal(t, DecideSkip, decision.Kind)

	// deletion of the sticky itself reposts
	decision = scheduler.Decide(
		rec,
		Trigger{Kind: TriggerStickyDeleted, MessageID: "sticky-1"},
		t0,
		time.Now(),
	)
	assert.Equal(t, DecideNow, decision.Kind)
}

// TestRepostSchedulerStaleEvents covers the causal "old news" checks: a
// new-message event that is the sticky itself, or that predates the
// sticky, must not trigger a repost.
func TestRepostSchedulerStaleEvents(t *testing.T) {
	scheduler := RepostScheduler{Cooldown: 3 * time.Minute}
	t0 := time.Now().Add(-time.Hour)
	rec := &StickyRecord{
		ChannelID: "chan",
		MessageID: "sticky-1",
		PostedAt:  t0.UnixMilli(),
	}

	selfEvent := scheduler.Decide(
		rec,
		Trigger{Kind: TriggerNewMessage, MessageID: "sticky-1", CreatedAt: t0},
		t0,
		time.Now(),
	)
	assert.Equal(t, DecideSkip, selfEvent.Kind)

	predates := scheduler.Decide(
		rec,
		Trigger{
			Kind:      TriggerNewMessage,
			MessageID: "user-1",
			CreatedAt: t0.Add(-time.Minute),
		},
		t0,
		time.Now(),
	)
	assert.Equal(t, DecideSkip, predates.Kind)

	// fresh submissions carry no event message and are never stale
	fresh := scheduler.Decide(
		rec,
		Trigger{Kind: TriggerFreshSubmission},
		t0,
		time.Now(),
	)
	assert.Equal(t, DecideNow, fresh.Kind)
}

func TestDecisionKindString(t *testing.T) {
	assert.Equal(t, "skip", DecideSkip.String())
	assert.Equal(t, "now", DecideNow.String())
	assert.Equal(t, "defer", DecideDefer.String())
}

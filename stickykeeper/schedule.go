package stickykeeper

import (
	"time"
)

// TriggerKind identifies the event that may require the sticky message
// to be repositioned.
type TriggerKind string

const (
	// TriggerNewMessage fires when a channel under sticky management
	// receives a new message, burying the current sticky.
	TriggerNewMessage TriggerKind = "new_message"

	// TriggerStickyDeleted fires when a message matching the recorded
	// sticky ID is deleted (by a moderator, or manually by the bot owner).
	TriggerStickyDeleted TriggerKind = "sticky_deleted"

	// TriggerFreshSubmission fires immediately after a confession or
	// suggestion has been accepted and posted.
	TriggerFreshSubmission TriggerKind = "fresh_submission"
)

// Trigger is the ephemeral input to StickyCoordinator.MaybeRepost.
//
// MessageID and CreatedAt describe the event message, when the trigger
// has one (the new channel message, or the deleted message). They are
// zero for TriggerFreshSubmission.
type Trigger struct {
	Kind      TriggerKind
	MessageID string
	CreatedAt time.Time
}

// DecisionKind is the outcome of the scheduler: repost now, repost after
// a delay, or do nothing.
type DecisionKind int

const (
	DecideSkip DecisionKind = iota
	DecideNow
	DecideDefer
)

func (k DecisionKind) String() string {
	switch k {
	case DecideNow:
		return "now"
	case DecideDefer:
		return "defer"
	default:
		return "skip"
	}
}

// Decision is the scheduler's answer for a single trigger. Wait is only
// meaningful when Kind is DecideDefer.
type Decision struct {
	Kind DecisionKind
	Wait time.Duration
}

// RepostScheduler decides whether a repost should happen for a trigger,
// given the current persisted sticky state. It performs no I/O and holds
// no state besides the configured cooldown, so the same decision can be
// re-evaluated after a deferred wait.
type RepostScheduler struct {
	// Cooldown is the minimum spacing between consecutive reposts on
	// one channel.
	Cooldown time.Duration
}

// Decide implements the debounce rules:
//
//  1. No sticky recorded for the channel: repost immediately (bootstrap).
//  2. A deletion notification for a message other than the recorded
//     sticky is stale - skip.
//  3. A new-message event that is the current sticky itself, or that was
//     created before the current sticky, is causally old news - skip.
//     This suppresses repost storms from delete-then-send races.
//  4. Otherwise repost once the cooldown has elapsed since the sticky
//     was posted, deferring by the remainder when it hasn't.
//
// stickyPostedAt is the recorded sticky's creation time; it is ignored
// when rec carries no message ID.
func (s RepostScheduler) Decide(
	rec *StickyRecord,
	trigger Trigger,
	stickyPostedAt time.Time,
	now time.Time,
) Decision {
	if rec == nil || rec.MessageID == "" {
		return Decision{Kind: DecideNow}
	}

	switch trigger.Kind {
	case TriggerStickyDeleted:
		if trigger.MessageID != rec.MessageID {
			return Decision{Kind: DecideSkip}
		}
	case TriggerNewMessage:
		if trigger.MessageID == rec.MessageID {
			return Decision{Kind: DecideSkip}
		}
		if !trigger.CreatedAt.IsZero() && trigger.CreatedAt.Before(stickyPostedAt) {
			return Decision{Kind: DecideSkip}
		}
	}

	elapsed := now.Sub(stickyPostedAt)
	if elapsed >= s.Cooldown {
		return Decision{Kind: DecideNow}
	}
	return Decision{Kind: DecideDefer, Wait: s.Cooldown - elapsed}
}

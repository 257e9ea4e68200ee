package stickykeeper

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"log/slog"
	"sync"
	"time"
)

// MessagingGateway is the outbound message surface the coordinator needs.
// In production it's implemented by Discord; tests supply fakes.
type MessagingGateway interface {
	// SendMessage sends content to the given channel and returns the new
	// message's ID. Fails with ErrPermissionDenied or a transient error.
	SendMessage(
		ctx context.Context,
		channelID string,
		content *discordgo.MessageSend,
	) (string, error)

	// DeleteMessage removes a message. Returns ErrMessageNotFound when
	// the message is already gone.
	DeleteMessage(ctx context.Context, channelID string, messageID string) error

	// LastMessageID returns the ID of the most recent message in the
	// channel, or an empty string when the channel is empty.
	LastMessageID(ctx context.Context, channelID string) (string, error)

	// MessageCreatedAt derives a message's creation time from its ID.
	MessageCreatedAt(messageID string) (time.Time, error)
}

// StickyStateStore persists, per channel, the identity of the currently
// active sticky message. Implemented by the GORM-backed database.
type StickyStateStore interface {
	GetSticky(ctx context.Context, channelID string) (*StickyRecord, error)
	SetSticky(
		ctx context.Context,
		channelID string,
		messageID string,
		postedAt time.Time,
	) error
}

// ManagedChannel describes one channel under sticky management: the
// channel, its repost cooldown, and a callback producing the sticky
// message content. Content is owned by the front-end so the coordinator
// never formats messages itself.
type ManagedChannel struct {
	ChannelID string
	Cooldown  time.Duration
	Content   func() *discordgo.MessageSend
}

// StickyCoordinator orchestrates sticky reposts across any number of
// managed channels. It is the single entry point for every trigger
// source, and owns the double-checked locking protocol that guarantees
// at most one in-flight repost per channel, with no duplicate stickies.
//
// A trigger passes through three phases:
//
//   - Phase 1 (decide, under lock): wait until the channel is not busy,
//     load the sticky record, and ask the scheduler for a decision.
//   - Phase 2 (cooldown sleep, lock-free): deferred triggers sleep
//     without holding the channel lock, so other triggers and other
//     channels are never blocked by the wait.
//   - Phase 3 (re-validate, under lock): reload the record and abandon
//     if another trigger already completed a repost during the sleep.
//
// The busy flag is asserted for the duration of the repost action but
// the lock itself is never held across outbound network calls.
type StickyCoordinator struct {
	gateway MessagingGateway
	store   StickyStateStore
	locks   *ChannelLockTable
	logger  *slog.Logger

	// sendLimiter paces outbound sticky sends across all channels.
	sendLimiter *rate.Limiter

	channelMu sync.RWMutex
	channels  map[string]ManagedChannel

	// now is time.Now outside of tests.
	now func() time.Time
}

// NewStickyCoordinator creates a coordinator using the given gateway and
// store. sendsPerSecond limits outbound sticky sends; zero or negative
// disables the limiter.
func NewStickyCoordinator(
	gateway MessagingGateway,
	store StickyStateStore,
	logger *slog.Logger,
	sendsPerSecond float64,
) *StickyCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &StickyCoordinator{
		gateway:  gateway,
		store:    store,
		locks:    NewChannelLockTable(),
		logger:   logger.With(loggerNameKey, "sticky_coordinator"),
		channels: map[string]ManagedChannel{},
		now:      time.Now,
	}
	if sendsPerSecond > 0 {
		c.sendLimiter = rate.NewLimiter(rate.Limit(sendsPerSecond), 1)
	}
	return c
}

// Manage registers a channel for sticky management. Triggers for
// unmanaged channels are silently ignored.
func (c *StickyCoordinator) Manage(mc ManagedChannel) {
	c.channelMu.Lock()
	defer c.channelMu.Unlock()
	c.channels[mc.ChannelID] = mc
}

// Managed returns the configuration for a channel, if it's managed.
func (c *StickyCoordinator) Managed(channelID string) (ManagedChannel, bool) {
	c.channelMu.RLock()
	defer c.channelMu.RUnlock()
	mc, ok := c.channels[channelID]
	return mc, ok
}

// ManagedChannels returns the IDs of all managed channels.
func (c *StickyCoordinator) ManagedChannels() []string {
	c.channelMu.RLock()
	defer c.channelMu.RUnlock()
	ids := make([]string, 0, len(c.channels))
	for id := range c.channels {
		ids = append(ids, id)
	}
	return ids
}

// MaybeRepost is invoked for every trigger on a channel, and decides
// whether to repost the channel's sticky message, possibly after a
// cooldown wait.
//
// Decision-phase outcomes (unmanaged channel, stale events, a concurrent
// trigger winning the race) resolve to a silent no-op. Only failures
// during the actual send or the persistence write surface as errors, and
// neither leaves the channel busy.
func (c *StickyCoordinator) MaybeRepost(
	ctx context.Context,
	channelID string,
	trigger Trigger,
) error {
	mc, ok := c.Managed(channelID)
	if !ok {
		return nil
	}
	logger := c.logger.With(
		slog.Group(
			"trigger",
			"kind", trigger.Kind,
			"channel_id", channelID,
			"message_id", trigger.MessageID,
		),
	)

	cl := c.locks.Get(channelID)

	// Phase 1: decide under the channel lock.
	cl.mu.Lock()
	cl.waitNotBusy()
	observed, err := c.store.GetSticky(ctx, channelID)
	if err != nil {
		cl.mu.Unlock()
		return fmt.Errorf("loading sticky record for channel %s: %w", channelID, err)
	}
	decision := c.decide(mc, observed, trigger)
	switch decision.Kind {
	case DecideSkip:
		cl.mu.Unlock()
		return nil
	case DecideNow:
		cl.busy = true
		cl.mu.Unlock()
		return c.repost(ctx, mc, cl, observed, logger)
	}
	cl.mu.Unlock()

	// Phase 2: cooldown sleep, no lock held.
	logger.DebugContext(ctx, "deferring repost", "wait", decision.Wait)
	if err = sleepContext(ctx, decision.Wait); err != nil {
		return err
	}

	// Phase 3: re-validate under the lock before acting.
	cl.mu.Lock()
	cl.waitNotBusy()
	current, err := c.store.GetSticky(ctx, channelID)
	if err != nil {
		cl.mu.Unlock()
		return fmt.Errorf("reloading sticky record for channel %s: %w", channelID, err)
	}
	if stickyMessageID(current) != stickyMessageID(observed) {
		// Another trigger completed a repost while this one slept.
		cl.mu.Unlock()
		logger.DebugContext(ctx, "abandoning repost, concurrent winner")
		return nil
	}
	if lastID, lastErr := c.gateway.LastMessageID(ctx, channelID); lastErr == nil &&
		lastID != "" && lastID == stickyMessageID(current) {
		// The sticky is already the newest message in the channel.
		cl.mu.Unlock()
		return nil
	}
	cl.busy = true
	cl.mu.Unlock()
	return c.repost(ctx, mc, cl, current, logger)
}

// decide computes the sticky's creation time and defers to the
// scheduler. Preference order for the creation time: the explicitly
// stored timestamp, then the time embedded in the message snowflake.
func (c *StickyCoordinator) decide(
	mc ManagedChannel,
	rec *StickyRecord,
	trigger Trigger,
) Decision {
	var postedAt time.Time
	if rec != nil && rec.MessageID != "" {
		postedAt = rec.PostedTime()
		if postedAt.IsZero() {
			if ts, err := c.gateway.MessageCreatedAt(rec.MessageID); err == nil {
				postedAt = ts
			}
		}
	}
	scheduler := RepostScheduler{Cooldown: mc.Cooldown}
	return scheduler.Decide(rec, trigger, postedAt, c.now())
}

// repost performs the repost action with the channel's busy flag
// asserted. The busy flag is cleared, and all waiters notified, on every
// exit path - a failed send must never leave the channel deadlocked.
func (c *StickyCoordinator) repost(
	ctx context.Context,
	mc ManagedChannel,
	cl *channelLock,
	previous *StickyRecord,
	logger *slog.Logger,
) (err error) {
	defer cl.clearBusy()

	if prevID := stickyMessageID(previous); prevID != "" {
		delErr := c.gateway.DeleteMessage(ctx, mc.ChannelID, prevID)
		switch {
		case delErr == nil:
		case errors.Is(delErr, ErrMessageNotFound):
			// Already gone - a user or moderator beat us to it.
		default:
			logger.WarnContext(
				ctx,
				"could not delete previous sticky",
				"previous_message_id", prevID,
				tint.Err(delErr),
			)
		}
	}

	if c.sendLimiter != nil {
		if err = c.sendLimiter.Wait(ctx); err != nil {
			return err
		}
	}

	messageID, err := c.gateway.SendMessage(ctx, mc.ChannelID, mc.Content())
	if err != nil {
		return fmt.Errorf("sending sticky to channel %s: %w", mc.ChannelID, err)
	}
	postedAt := c.now()
	if ts, tsErr := c.gateway.MessageCreatedAt(messageID); tsErr == nil {
		postedAt = ts
	}
	if err = c.store.SetSticky(ctx, mc.ChannelID, messageID, postedAt); err != nil {
		return fmt.Errorf(
			"recording sticky %s for channel %s: %w",
			messageID,
			mc.ChannelID,
			err,
		)
	}
	logger.InfoContext(ctx, "reposted sticky", "message_id", messageID)
	return nil
}

func stickyMessageID(rec *StickyRecord) string {
	if rec == nil {
		return ""
	}
	return rec.MessageID
}

// sleepContext suspends the calling goroutine for d, returning early
// with the context's error if it's canceled first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

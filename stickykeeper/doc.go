// Package stickykeeper implements a Discord bot that keeps a single
// "call-to-action" message pinned logically at the bottom of each managed
// channel, reposting it whenever the channel receives new traffic.
//
// Two front-ends share the same coordination engine: a confession box
// (anonymous submissions via the /confess command) and a suggestion box
// (/suggest, with reaction voting). Each front-end owns one managed
// channel and the sticky message shown there.
//
// Key components of the package include:
//
//   - StickyKeeper: The main struct that encapsulates the bot's core functionality.
//   - StickyCoordinator: The coordination engine - per-channel mutual
//     exclusion, cooldown debounce, and check-then-act re-validation.
//   - RepostScheduler: Pure decision logic for whether a repost should
//     happen now, after a delay, or not at all.
//   - ChannelLockTable: Lazily-created per-channel locks so contention on
//     one channel never affects another.
//   - Discord: Handles the gateway connection and implements the
//     MessagingGateway used by the coordinator.
//   - API: A small gin-based HTTP API for monitoring and manual reposts.
//
// Sticky state is persisted via GORM (SQLite or PostgreSQL), so the
// tracked message survives restarts. The coordinator guarantees at most
// one in-flight repost per channel, and never leaves a channel busy after
// a failed send.
package stickykeeper

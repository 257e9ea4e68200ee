package stickykeeper

import (
	"errors"
)

var (
	// ErrMessageNotFound indicates the Discord API reported the target
	// message as already gone. Safe to ignore when deleting an old sticky.
	ErrMessageNotFound = errors.New("message not found")

	// ErrPermissionDenied indicates the bot lacks permission to send or
	// delete messages in the target channel.
	ErrPermissionDenied = errors.New("missing permissions")

	// ErrNotConnected indicates an outbound call was attempted before the
	// gateway session was opened.
	ErrNotConnected = errors.New("discord session not connected")
)

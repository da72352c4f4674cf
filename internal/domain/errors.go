package domain

import "errors"

var (
	// ErrConnectionFailed is returned when a session code is unknown or the
	// handshake does not complete within the configured timeout. Retryable.
	ErrConnectionFailed = errors.New("connection to session failed")
	// ErrUnknownPlayer indicates a message references a player not in the
	// session; usually a race with a leave event, never fatal.
	ErrUnknownPlayer = errors.New("unknown player")
	// ErrInvalidTransition indicates an event arrived in a phase that does
	// not accept it. Logged and ignored by the host.
	ErrInvalidTransition = errors.New("event not valid in current phase")
	// ErrNoPlayers is returned when starting a game with an empty lobby.
	ErrNoPlayers = errors.New("cannot start game without players")
	// ErrPackNotFound indicates the question pack could not be loaded.
	ErrPackNotFound = errors.New("question pack not found")
	// ErrStaleBroadcast is returned by the mirror for out-of-date snapshots.
	ErrStaleBroadcast = errors.New("stale state broadcast")
	// ErrSubmissionPending is returned when a player tries to answer again
	// while a previous submission awaits host confirmation.
	ErrSubmissionPending = errors.New("submission awaiting confirmation")
)

// Package notifications delivers run events via ntfy.
//
// NewService returns an ntfy-backed Service when a topic is configured and a
// no-op otherwise, so callers never check whether notifications are enabled.
// Each event class can be switched off in the [notifications] config section.
package notifications

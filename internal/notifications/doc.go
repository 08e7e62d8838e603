// Package notifications publishes run milestones to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers never need to check whether notifications are enabled. Individual
// milestones can be switched off in the [notifications] config section.
package notifications

// Package notifications delivers job and batch events via ntfy.
//
// NewService returns a no-op implementation when no topic is configured, and
// individual events can be switched off in the [notifications] config section.
// Workflow code depends only on the Service interface.
package notifications

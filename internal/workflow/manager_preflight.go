package workflow

import (
	"dubforge/internal/logging"
	"dubforge/internal/preflight"
)

// Preflight validates local readiness before serving the queue. It returns
// nil when all checks pass, or an error describing every failure.
func (m *Manager) Preflight() error {
	results := preflight.RunLocal(m.cfg)
	for _, r := range results {
		if r.Passed {
			m.logger.Debug("preflight check passed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
				logging.String(logging.FieldEventType, "preflight_passed"))
			continue
		}
		logging.ErrorWithContext(m.logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "fix the reported issue and restart the daemon"))
	}
	return preflight.Failures(results)
}

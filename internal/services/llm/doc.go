// Package llm wraps an OpenAI-compatible chat completion API for the two
// language tasks of the pipeline: segment translation and pacing rewrites.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.Translate: translate one segment's text between two languages.
// Client.Rewrite: shorten text toward a target spoken duration; satisfies
// pacing.Rewriter.
// Client.HealthCheck: verify API key and model availability.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx errors, empty completions and
// network timeouts with exponential backoff (base 1s, max 10s, up to 5
// attempts by default), honouring Retry-After. Context cancellation aborts
// retries immediately. The SDK's own retry loop is disabled so backoff is
// governed in one place.
//
// # Errors
//
// Failures are tagged with services sentinels: a missing key or a rejected
// credential is ErrConfiguration, everything else is ErrTransient.
package llm

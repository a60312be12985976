// Package preflight provides readiness checks for the external tools,
// services, and filesystem paths dubforge depends on.
//
// The workflow manager runs RunLocal before serving the queue so a missing
// binary halts the daemon instead of failing every job. The doctor command
// runs RunAll, which adds LLM and synthesis endpoint reachability.
package preflight

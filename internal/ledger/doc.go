// Package ledger is the segment review store: the sole source of truth for
// segment bounds, text and the version history of each segment's text/audio
// pair.
//
// Versions are monotonic per segment and never reused. A locked segment keeps
// its current version until an explicit Unlock; every version-creating call on
// a locked segment fails with services.ErrSegmentLocked. Writers on the same
// segment are serialized in-process by a keyed mutex and across processes by
// SQLite transactions; a second writer arriving while one is in flight is
// rejected with services.ErrSegmentBusy rather than merged.
package ledger

// Package language normalizes language identifiers used across the pipeline.
//
// Configuration accepts BCP 47 tags, ISO 639 codes or English language names;
// everything is canonicalized to a BCP 47 tag through golang.org/x/text. The
// WhisperX CLI wants ISO 639-1 and container metadata wants ISO 639-2, so both
// projections live here too.
package language

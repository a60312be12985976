// Package tts talks to the speech synthesis service.
//
// Synthesis is modelled as an ordered Chain of capability-tagged providers:
// voice-clone (needs a reference clip of the speaker), preset (needs a voice
// mapped to the speaker) and generic. Every attempt returns an Attempt with an
// Outcome. OutcomeReferenceUnavailable moves the chain to the next provider;
// OutcomeFailed stops it, because a broken service should not silently
// degrade every voice in a job to the generic one.
package tts

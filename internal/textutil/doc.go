// Package textutil provides the word model used for speech-length estimates
// and filename sanitization for output artifacts.
package textutil

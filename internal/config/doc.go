// Package config loads, normalizes, and validates dubforge configuration.
//
// Configuration lives in TOML (default ~/.config/dubforge/config.toml or
// ./dubforge.toml). Load applies repository defaults, merges an optional
// dotenv file so API keys can stay out of the TOML, expands paths, canonicalizes
// language tags, and validates ranges before any component starts. The embedded
// sample_config.toml backs `dubforge config init`.
package config

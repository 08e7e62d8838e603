// Package config loads, normalizes, and validates ferry configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// FERRY_SERVER_URL and FERRY_PASSWORD. The Config type centralizes every knob
// the CLI needs, from the corpus server connection to upload polling and log
// output, so commands discover their settings in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config

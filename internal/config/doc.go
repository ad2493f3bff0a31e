// Package config loads the rayfine runtime configuration from a JSON file,
// fills in defaults relative to the file's directory and then applies
// RAYFINE_* environment overrides.
package config

// Package config loads and validates session core configuration from
// YAML files layered over built-in defaults, with environment variable
// overrides for deployment identity and secrets.
package config

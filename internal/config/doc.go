// Package config provides configuration loading and validation for the
// voice keyboard service. It handles YAML-based configuration with
// per-section validation and typed accessors for duration parameters.
package config

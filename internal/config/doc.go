// Package config loads the SmartTodo service configuration from JSON, YAML or
// TOML files and applies defaults plus environment overrides.
package config

// Package config loads and validates the monitor configuration from the
// `monitor:` section of config.yaml, and supports hot-reloading the alert
// settings while the process runs.
package config

// Package config defines the packaging settings, their defaults and helpers
// to load them from YAML or TOML and validate them.
//
// Values from a file are merged over Default(); the CLI applies its flags on
// top of the loaded Config.
package config

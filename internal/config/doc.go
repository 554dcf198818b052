// Package config loads, normalizes, and validates the dirjobs TOML
// configuration.
//
// Load resolves the config file location (explicit path, then
// ~/.config/dirjobs/config.toml, then ./dirjobs.toml), applies defaults,
// expands ~ in path fields, pulls secrets and the worker ID from the
// environment when they are not set in the file, and rejects values the
// worker cannot run with. Validation failures wrap services.ErrConfiguration
// so the CLI can exit non-zero before any queue directory is touched.
package config

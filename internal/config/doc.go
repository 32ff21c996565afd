// Package config defines the settings shared by alarmd and alarm-keeper and
// provides helpers to load, validate and save them in YAML format.
//
// Validate fills in defaults for every optional key, so a minimal file only
// needs daemon.address.
package config

// Package common holds helpers shared by several services.
//
// It provides the alarm daemon client with per-call timeouts, the mapping of
// daemon status codes to domain errors, and detection of the current system
// actor (hostname/username) for audit purposes.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

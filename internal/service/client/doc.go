// Package client implements the one-shot alarm-keeper subcommands that talk
// to the alarm daemon directly: act reports a button press on a ringing
// alarm and pending lists what the daemon holds.
package client

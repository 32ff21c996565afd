// Package version exposes build metadata for alarmd and alarm-keeper.
//
// Variables Version, Commit, and BuildTime are injected at build time via
// Go ldflags. Short is what the daemon reports over Ping; Full is printed
// by the version subcommand of both binaries.
package version

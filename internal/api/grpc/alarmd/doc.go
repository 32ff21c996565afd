// Package alarmd describes the alarm daemon gRPC service: its messages, the
// JSON codec they travel in, the service descriptor with a typed client, and
// the server adapter over the daemon business logic.
//
// alarmd.proto is the wire contract; the Go types follow it by hand.
package alarmd

// Package daemon implements alarmd: the persistent alarm facility behind the
// primary backend.
//
// The daemon keeps a table of armed alarms keyed by delivery id, fires them
// from a cron engine, rings every fired alarm until somebody acts on it and
// persists the table after each mutation so armed alarms survive restarts.
// The gRPC transport lives in internal/api/grpc/alarmd.
package daemon

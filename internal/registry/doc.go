// Package registry holds the in-memory source of truth for what is currently
// scheduled: at most one ScheduledAlarm per logical id.
package registry

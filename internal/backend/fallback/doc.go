// Package fallback is the best-effort delivery backend: alarms are armed on an
// in-process cron engine and shown through a notifier when they fire. Nothing
// survives a process exit and nothing keeps ringing.
package fallback

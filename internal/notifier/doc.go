// Package notifier holds the sinks the fallback backend shows alarms through.
package notifier

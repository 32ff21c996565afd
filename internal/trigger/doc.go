// Package trigger adapts alarm fire times to cron schedules and builds the cron
// engines the daemon and the fallback backend arm their alarms on.
package trigger

// Package action reconciles delivery events reported by the backends with the
// registry: delivered alarms are marked, snoozes are rescheduled under the same
// logical id and dismissals end the current occurrence.
package action

// Package status projects the scheduler state into a read-only snapshot for
// presentation code and exports active alarms as an iCalendar file.
package status

// Package alarm contains the core domain types of alarm scheduling.
//
// Request is what a caller asks for, ScheduledAlarm is what the registry
// holds, DeliverySpec is the fixed payload handed to delivery backends and
// DeliveryEvent is what backends report back. Normalize corrects requested
// fire times that are not strictly in the future.
package alarm

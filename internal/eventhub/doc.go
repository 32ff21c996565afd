// Package eventhub fans delivery events out to in-process subscribers.
package eventhub

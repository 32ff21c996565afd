// Package schedule persists the alarm daemon's armed alarms.
//
// FileRepository keeps them in a JSON file, RedisRepository in a redis hash.
// Both store delivery specs in their wire form so the file stays readable with
// the same field names the daemon API uses.
package schedule

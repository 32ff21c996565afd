// Package scheduler implements the scheduling core: it normalizes the fire
// time, asks the primary backend, demotes to the fallback on failure and
// records the outcome in the registry. Operations on one logical id are
// serialized so a stale replace cannot clobber a newer schedule.
package scheduler

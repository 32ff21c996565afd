// Package primary is the persistent delivery backend. It hands alarms to the
// alarm daemon, which fires them even while this process is not running and
// keeps ringing until someone acts on them.
package primary

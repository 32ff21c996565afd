// Package keeper hosts the alarm core: it wires the permission provider,
// registry, both delivery backends, scheduler, action handler and status
// projector, keeps the alarms listed in a YAML schedule file scheduled and
// follows edits to that file.
package keeper

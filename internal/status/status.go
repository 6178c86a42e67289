// Package status owns the project lifecycle field. Every other component
// reads it; only the submitter, the callback handler, and explicit user
// actions move it, and only along the transitions declared here.
package status

import "fmt"

type Status string

const (
	Idea      Status = "idea"
	Scripting Status = "scripting"
	Rendering Status = "rendering"
	Rendered  Status = "rendered"
	Failed    Status = "failed"
	Scheduled Status = "scheduled"
	Published Status = "published"
	// Autopilot is an entry state parallel to Idea for system-generated
	// drafts; it converges into Scripting once a user opens the project.
	Autopilot Status = "autopilot"
)

// All lists every status, entry states first.
var All = []Status{Idea, Autopilot, Scripting, Rendering, Rendered, Failed, Scheduled, Published}

func (s Status) Valid() bool {
	switch s {
	case Idea, Scripting, Rendering, Rendered, Failed, Scheduled, Published, Autopilot:
		return true
	}
	return false
}

// EditingLocked reports whether the consuming UI must disable drag/reorder
// actions and whether submission is refused. Only an in-flight render locks
// the document.
func (s Status) EditingLocked() bool {
	return s == Rendering
}

// Terminal reports whether no further automated transition exists.
func (s Status) Terminal() bool {
	return s == Published
}

func allowed(from, to Status) bool {
	switch from {
	case Idea, Autopilot:
		return to == Scripting
	case Scripting:
		return to == Rendering
	case Rendering:
		return to == Rendered || to == Failed
	case Rendered:
		return to == Scheduled || to == Published
	case Scheduled:
		return to == Published
	case Failed:
		return to == Scripting
	}
	return false
}

// Transition validates a status move and returns a descriptive error when the
// move is illegal.
func Transition(from, to Status) error {
	if !from.Valid() {
		return fmt.Errorf("invalid project status %q", from)
	}
	if !to.Valid() {
		return fmt.Errorf("invalid project status %q", to)
	}
	if !allowed(from, to) {
		return fmt.Errorf("invalid project status transition %s -> %s", from, to)
	}
	return nil
}

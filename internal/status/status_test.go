package status_test

import (
	"testing"

	"cutline/internal/status"
)

func TestAllowedTransitions(t *testing.T) {
	legal := [][2]status.Status{
		{status.Idea, status.Scripting},
		{status.Autopilot, status.Scripting},
		{status.Scripting, status.Rendering},
		{status.Rendering, status.Rendered},
		{status.Rendering, status.Failed},
		{status.Rendered, status.Scheduled},
		{status.Rendered, status.Published},
		{status.Scheduled, status.Published},
		{status.Failed, status.Scripting},
	}
	for _, pair := range legal {
		if err := status.Transition(pair[0], pair[1]); err != nil {
			t.Errorf("%s -> %s should be legal: %v", pair[0], pair[1], err)
		}
	}
}

func TestRejectedTransitions(t *testing.T) {
	illegal := [][2]status.Status{
		{status.Idea, status.Rendering},
		{status.Scripting, status.Rendered},
		{status.Rendered, status.Scripting},
		{status.Published, status.Scripting},
		{status.Published, status.Rendered},
		{status.Failed, status.Rendering},
		{status.Autopilot, status.Rendering},
		{status.Rendering, status.Rendering},
	}
	for _, pair := range illegal {
		if err := status.Transition(pair[0], pair[1]); err == nil {
			t.Errorf("%s -> %s should be rejected", pair[0], pair[1])
		}
	}
	if err := status.Transition("bogus", status.Scripting); err == nil {
		t.Error("unknown status should be rejected")
	}
}

func TestEditingLocked(t *testing.T) {
	for _, s := range status.All {
		locked := s.EditingLocked()
		if s == status.Rendering && !locked {
			t.Error("rendering must lock editing")
		}
		if s != status.Rendering && locked {
			t.Errorf("%s must not lock editing", s)
		}
	}
}

package timeline_test

import (
	"testing"

	"cutline/internal/timeline"
)

func TestCloneIsDeep(t *testing.T) {
	vol := 0.5
	orig := timeline.New(1280, 720)
	orig.AppendClip(0, timeline.Clip{
		Asset: timeline.Asset{
			Type:       timeline.AssetShape,
			Shape:      timeline.ShapeCircle,
			Volume:     &vol,
			Background: &timeline.Background{Color: "#ffffff", Opacity: 1},
		},
		Start:      0,
		Length:     3,
		Transition: &timeline.Transition{In: "fade"},
	})

	cp := orig.Clone()
	cp.Timeline.Tracks[0].Clips[0].Transition.In = "wipe"
	*cp.Timeline.Tracks[0].Clips[0].Asset.Volume = 0.9
	cp.Timeline.Tracks[0].Clips[0].Asset.Background.Color = "#000000"
	cp.AppendClip(0, timeline.Clip{
		Asset:  timeline.Asset{Type: timeline.AssetText, Text: "late"},
		Length: 1,
	})

	c := orig.Timeline.Tracks[0].Clips[0]
	if c.Transition.In != "fade" {
		t.Fatalf("transition leaked through clone: %q", c.Transition.In)
	}
	if *c.Asset.Volume != 0.5 {
		t.Fatalf("volume leaked through clone: %v", *c.Asset.Volume)
	}
	if c.Asset.Background.Color != "#ffffff" {
		t.Fatalf("background leaked through clone: %q", c.Asset.Background.Color)
	}
	if orig.ClipCount() != 1 {
		t.Fatalf("clip count = %d, want 1", orig.ClipCount())
	}
}

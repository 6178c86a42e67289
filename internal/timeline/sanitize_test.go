package timeline_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"cutline/internal/timeline"
)

func sanitizeJSON(t *testing.T, in string) timeline.Document {
	t.Helper()
	return timeline.Sanitize([]byte(in))
}

func roundTrip(t *testing.T, doc timeline.Document) timeline.Document {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return timeline.Sanitize(data)
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		`{}`,
		`null`,
		`"not a document"`,
		`{"timeline":{"tracks":"nope"}}`,
		`{"output":{"size":{"width":"wide","height":1080.9}},"timeline":{"background":"#000","tracks":[]}}`,
		`{"timeline":{"tracks":[{"clips":[
			{"asset":{"type":"title","text":""},"start":-3,"length":"abc"},
			{"asset":{"type":"image"}},
			{"asset":{"src":"music.mp3","junk":true},"effect":{"value":"zoomIn"}},
			{"asset":{"type":"shape","shape":"circle"},"transition":{"in":"fade"}},
			{"asset":{"type":"html"},"start":2,"length":3.5},
			{"asset":{"type":"video","src":"a.mp4","volume":2.5}},
			"garbage",
			{"asset":{"shape":"triangle"}}
		]},{"clips":null},42]}}`,
	}
	for _, in := range inputs {
		once := sanitizeJSON(t, in)
		twice := roundTrip(t, once)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("sanitize not idempotent for %s\nonce:  %#v\ntwice: %#v", in, once, twice)
		}
	}
}

func TestSanitizeClipInvariants(t *testing.T) {
	doc := sanitizeJSON(t, `{"timeline":{"tracks":[{"clips":[
		{"asset":{"text":"a"},"start":-1,"length":0},
		{"asset":{"text":"b"},"start":"x","length":-9},
		{"asset":{"text":"c"}},
		{"asset":{"text":"d"},"start":1.5,"length":2.25}
	]}]}}`)
	if got := doc.ClipCount(); got != 4 {
		t.Fatalf("expected 4 clips, got %d", got)
	}
	for _, c := range doc.Timeline.Tracks[0].Clips {
		if c.Start < 0 {
			t.Errorf("clip start %v < 0", c.Start)
		}
		if c.Length <= 0 {
			t.Errorf("clip length %v <= 0", c.Length)
		}
	}
	last := doc.Timeline.Tracks[0].Clips[3]
	if last.Start != 1.5 || last.Length != 2.25 {
		t.Errorf("valid start/length not preserved: %+v", last)
	}
	third := doc.Timeline.Tracks[0].Clips[2]
	if third.Length != 5 {
		t.Errorf("expected default length 5, got %v", third.Length)
	}
}

func TestSanitizeTypeClosure(t *testing.T) {
	doc := sanitizeJSON(t, `{"timeline":{"tracks":[{"clips":[
		{"asset":{"type":"text","text":"hi","src":"sneaky.png","volume":1,"shape":"circle","meta":{"x":1}}},
		{"asset":{"type":"image","src":"a.png","text":"leftover","volume":0.5}},
		{"asset":{"type":"audio","src":"a.mp3","volume":0.5,"html":"<b>"}}
	]}]}}`)
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	var generic struct {
		Timeline struct {
			Tracks []struct {
				Clips []struct {
					Asset map[string]json.RawMessage `json:"asset"`
				} `json:"clips"`
			} `json:"tracks"`
		} `json:"timeline"`
	}
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatal(err)
	}
	allowed := map[string]map[string]bool{
		"text":  {"type": true, "text": true, "color": true, "background": true},
		"image": {"type": true, "src": true},
		"audio": {"type": true, "src": true, "volume": true},
	}
	clips := generic.Timeline.Tracks[0].Clips
	if len(clips) != 3 {
		t.Fatalf("expected 3 clips, got %d", len(clips))
	}
	for _, c := range clips {
		var typ string
		_ = json.Unmarshal(c.Asset["type"], &typ)
		for field := range c.Asset {
			if !allowed[typ][field] {
				t.Errorf("asset type %s carries foreign field %q", typ, field)
			}
		}
	}
}

func TestSanitizeDropsSourcelessMedia(t *testing.T) {
	doc := sanitizeJSON(t, `{"timeline":{"tracks":[{"clips":[
		{"asset":{"type":"image"}},
		{"asset":{"type":"video","src":""}},
		{"asset":{"type":"luma","src":42}},
		{"asset":{"type":"image","src":"keep.png"}}
	]}]}}`)
	track := doc.Timeline.Tracks[0]
	if len(track.Clips) != 1 {
		t.Fatalf("expected only the sourced clip to survive, got %d", len(track.Clips))
	}
	if track.Clips[0].Asset.Src != "keep.png" {
		t.Errorf("wrong survivor: %+v", track.Clips[0].Asset)
	}
}

func TestSanitizeBackgroundEquivalence(t *testing.T) {
	asString := sanitizeJSON(t, `{"timeline":{"tracks":[{"clips":[
		{"asset":{"type":"text","text":"x","background":"#FF0000"}}]}]}}`)
	asObject := sanitizeJSON(t, `{"timeline":{"tracks":[{"clips":[
		{"asset":{"type":"text","text":"x","background":{"color":"#FF0000"}}}]}]}}`)
	want := &timeline.Background{Color: "#FF0000", Opacity: 1}
	gotA := asString.Timeline.Tracks[0].Clips[0].Asset.Background
	gotB := asObject.Timeline.Tracks[0].Clips[0].Asset.Background
	if !reflect.DeepEqual(gotA, want) || !reflect.DeepEqual(gotA, gotB) {
		t.Errorf("background forms not equivalent: %+v vs %+v", gotA, gotB)
	}
}

func TestSanitizeShapeDefaultFill(t *testing.T) {
	doc := sanitizeJSON(t, `{"timeline":{"tracks":[{"clips":[
		{"asset":{"type":"shape","shape":"circle"}}]}]}}`)
	bg := doc.Timeline.Tracks[0].Clips[0].Asset.Background
	if bg == nil || bg.Color != "#FFFFFF" || bg.Opacity != 1 {
		t.Errorf("expected opaque white default fill, got %+v", bg)
	}
}

func TestSanitizeLegacyTitleAlias(t *testing.T) {
	doc := sanitizeJSON(t, `{"timeline":{"tracks":[{"clips":[
		{"asset":{"type":"title","text":"Hi"}}]}]}}`)
	asset := doc.Timeline.Tracks[0].Clips[0].Asset
	if asset.Type != timeline.AssetText || asset.Text != "Hi" {
		t.Errorf("title alias not rewritten: %+v", asset)
	}
}

func TestSanitizeTypeInference(t *testing.T) {
	cases := []struct {
		asset string
		want  timeline.AssetType
	}{
		{`{"text":"hello"}`, timeline.AssetText},
		{`{"html":"<p>x</p>"}`, timeline.AssetHTML},
		{`{"src":"track.mp3"}`, timeline.AssetAudio},
		{`{"src":"https://cdn/x/CLIP.MOV?sig=abc"}`, timeline.AssetVideo},
		{`{"src":"poster.png"}`, timeline.AssetImage},
		{`{"src":"no-extension"}`, timeline.AssetImage},
		{`{"shape":"rectangle"}`, timeline.AssetShape},
		{`{"type":"bogus","src":"a.wav"}`, timeline.AssetAudio},
	}
	for _, tc := range cases {
		doc := sanitizeJSON(t, `{"timeline":{"tracks":[{"clips":[{"asset":`+tc.asset+`}]}]}}`)
		clips := doc.Timeline.Tracks[0].Clips
		if len(clips) != 1 {
			t.Errorf("asset %s dropped, wanted type %s", tc.asset, tc.want)
			continue
		}
		if clips[0].Asset.Type != tc.want {
			t.Errorf("asset %s: inferred %s, want %s", tc.asset, clips[0].Asset.Type, tc.want)
		}
	}
}

func TestSanitizeUnsalvageableAsset(t *testing.T) {
	doc := sanitizeJSON(t, `{"timeline":{"tracks":[{"clips":[
		{"asset":{"volume":0.5}},
		{"asset":null},
		{"asset":{"type":"shape","shape":"triangle"}},
		{"start":0,"length":5}
	]}]}}`)
	if got := doc.ClipCount(); got != 0 {
		t.Fatalf("expected all clips dropped, got %d", got)
	}
	if len(doc.Timeline.Tracks) != 1 {
		t.Fatalf("track itself must survive, got %d tracks", len(doc.Timeline.Tracks))
	}
}

func TestSanitizeEffectFlattening(t *testing.T) {
	doc := sanitizeJSON(t, `{"timeline":{"tracks":[{"clips":[
		{"asset":{"text":"a"},"effect":"slideLeft"},
		{"asset":{"text":"b"},"effect":{"value":"zoomIn"}},
		{"asset":{"text":"c"},"effect":{"name":"zoomIn"}},
		{"asset":{"text":"d"},"effect":12}
	]}]}}`)
	clips := doc.Timeline.Tracks[0].Clips
	if clips[0].Effect != "slideLeft" || clips[1].Effect != "zoomIn" {
		t.Errorf("effects not kept/flattened: %q %q", clips[0].Effect, clips[1].Effect)
	}
	if clips[2].Effect != "" || clips[3].Effect != "" {
		t.Errorf("invalid effects not discarded: %q %q", clips[2].Effect, clips[3].Effect)
	}
}

func TestSanitizeTrackOrderPreserved(t *testing.T) {
	doc := sanitizeJSON(t, `{"timeline":{"tracks":[
		{"clips":[{"asset":{"text":"top"}}]},
		{"clips":"bad"},
		{"clips":[{"asset":{"text":"bottom"}}]}
	]}}`)
	if len(doc.Timeline.Tracks) != 3 {
		t.Fatalf("expected 3 tracks, got %d", len(doc.Timeline.Tracks))
	}
	if doc.Timeline.Tracks[0].Clips[0].Asset.Text != "top" ||
		doc.Timeline.Tracks[2].Clips[0].Asset.Text != "bottom" {
		t.Errorf("track z-order not preserved")
	}
	if len(doc.Timeline.Tracks[1].Clips) != 0 {
		t.Errorf("bad clips list must become empty, got %d", len(doc.Timeline.Tracks[1].Clips))
	}
}

func TestSanitizeNeverMutatesInput(t *testing.T) {
	original := map[string]any{
		"timeline": map[string]any{
			"tracks": []any{
				map[string]any{"clips": []any{
					map[string]any{"asset": map[string]any{"type": "title", "text": "Hi"}, "start": float64(-2)},
				}},
			},
		},
	}
	snapshot, _ := json.Marshal(original)
	_ = timeline.SanitizeValue(original)
	after, _ := json.Marshal(original)
	if string(snapshot) != string(after) {
		t.Errorf("input mutated:\nbefore %s\nafter  %s", snapshot, after)
	}
}

func TestSanitizeColorValidation(t *testing.T) {
	doc := sanitizeJSON(t, `{"timeline":{"background":"purple","tracks":[{"clips":[
		{"asset":{"type":"text","text":"x","color":"red"}},
		{"asset":{"type":"text","text":"y","color":"#1A2b3C"}},
		{"asset":{"type":"text","text":"z","background":{"color":"#GGG"}}}
	]}]}}`)
	if doc.Timeline.Background != "" {
		t.Errorf("invalid timeline background kept: %q", doc.Timeline.Background)
	}
	clips := doc.Timeline.Tracks[0].Clips
	if clips[0].Asset.Color != "" {
		t.Errorf("invalid color kept: %q", clips[0].Asset.Color)
	}
	if clips[1].Asset.Color != "#1A2b3C" {
		t.Errorf("valid color dropped: %q", clips[1].Asset.Color)
	}
	if clips[2].Asset.Background != nil {
		t.Errorf("invalid background kept for text asset: %+v", clips[2].Asset.Background)
	}
}

package timeline

// Document is the full structured description of a video edit: output
// configuration plus an ordered stack of tracks. It is the unit of truth the
// editor mutates in memory, the draft cache snapshots, and the render service
// consumes. Track order is z-order and is never reordered implicitly.
type Document struct {
	Output   Output `json:"output"`
	Timeline Tracks `json:"timeline"`
}

type Output struct {
	Size Size `json:"size"`
}

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Tracks struct {
	Background string  `json:"background,omitempty"`
	Tracks     []Track `json:"tracks"`
}

// Track is an ordered layer of time-positioned clips. Clips on the same track
// may overlap; no cross-track invariant is enforced.
type Track struct {
	Clips []Clip `json:"clips"`
}

// Clip places one asset on a track. Start and Length are seconds; Start is
// always >= 0 and Length always > 0 after sanitization. Start and Length are
// the sole source of truth for time extents.
type Clip struct {
	Asset      Asset       `json:"asset"`
	Start      float64     `json:"start"`
	Length     float64     `json:"length"`
	Transition *Transition `json:"transition,omitempty"`
	Effect     string      `json:"effect,omitempty"`
}

type Transition struct {
	In  string `json:"in,omitempty"`
	Out string `json:"out,omitempty"`
}

// AssetType discriminates the asset union.
type AssetType string

const (
	AssetText  AssetType = "text"
	AssetImage AssetType = "image"
	AssetVideo AssetType = "video"
	AssetAudio AssetType = "audio"
	AssetLuma  AssetType = "luma"
	AssetShape AssetType = "shape"
	AssetHTML  AssetType = "html"
)

// AssetTypes lists every valid discriminant.
var AssetTypes = []AssetType{AssetText, AssetImage, AssetVideo, AssetAudio, AssetLuma, AssetShape, AssetHTML}

func (t AssetType) Valid() bool {
	switch t {
	case AssetText, AssetImage, AssetVideo, AssetAudio, AssetLuma, AssetShape, AssetHTML:
		return true
	}
	return false
}

// IsMedia reports whether the variant requires a non-empty Src.
func (t AssetType) IsMedia() bool {
	switch t {
	case AssetImage, AssetVideo, AssetAudio, AssetLuma:
		return true
	}
	return false
}

// Asset is the typed payload a clip renders. Exactly one variant's fields are
// populated once normalized; the Type switch in normalizeAsset is the
// exhaustive copy rule, so a foreign field can never survive into a Document.
type Asset struct {
	Type AssetType `json:"type"`

	// text
	Text  string `json:"text,omitempty"`
	Color string `json:"color,omitempty"`

	// image, video, audio, luma
	Src    string   `json:"src,omitempty"`
	Volume *float64 `json:"volume,omitempty"`

	// shape
	Shape string `json:"shape,omitempty"`

	// html
	HTML string `json:"html,omitempty"`
	CSS  string `json:"css,omitempty"`

	// text (optional) and shape (always present)
	Background *Background `json:"background,omitempty"`
}

// Background is the canonical fill: a validated hex color plus opacity.
type Background struct {
	Color   string  `json:"color"`
	Opacity float64 `json:"opacity"`
}

// Shape variants.
const (
	ShapeRectangle = "rectangle"
	ShapeCircle    = "circle"
	ShapeLine      = "line"
)

func validShape(s string) bool {
	return s == ShapeRectangle || s == ShapeCircle || s == ShapeLine
}

// New returns an empty document with the given output size; the editor starts
// every project from this.
func New(width, height int) Document {
	return Document{
		Output:   Output{Size: Size{Width: width, Height: height}},
		Timeline: Tracks{Tracks: []Track{}},
	}
}

// AppendClip adds a clip to the given track, growing the track list if the
// index is past the end. Track order is preserved.
func (d *Document) AppendClip(track int, c Clip) {
	for len(d.Timeline.Tracks) <= track {
		d.Timeline.Tracks = append(d.Timeline.Tracks, Track{Clips: []Clip{}})
	}
	d.Timeline.Tracks[track].Clips = append(d.Timeline.Tracks[track].Clips, c)
}

// Clone returns a deep copy: the track and clip slices and every pointer
// field are duplicated, so mutating one document never shows through the
// other.
func (d Document) Clone() Document {
	out := d
	out.Timeline.Tracks = make([]Track, len(d.Timeline.Tracks))
	for i, t := range d.Timeline.Tracks {
		clips := make([]Clip, len(t.Clips))
		for j, c := range t.Clips {
			if c.Transition != nil {
				tr := *c.Transition
				c.Transition = &tr
			}
			if c.Asset.Volume != nil {
				v := *c.Asset.Volume
				c.Asset.Volume = &v
			}
			if c.Asset.Background != nil {
				b := *c.Asset.Background
				c.Asset.Background = &b
			}
			clips[j] = c
		}
		out.Timeline.Tracks[i] = Track{Clips: clips}
	}
	return out
}

// Duration returns the end of the latest clip across all tracks.
func (d Document) Duration() float64 {
	var max float64
	for _, t := range d.Timeline.Tracks {
		for _, c := range t.Clips {
			if end := c.Start + c.Length; end > max {
				max = end
			}
		}
	}
	return max
}

// ClipCount returns the total number of clips across tracks.
func (d Document) ClipCount() int {
	n := 0
	for _, t := range d.Timeline.Tracks {
		n += len(t.Clips)
	}
	return n
}

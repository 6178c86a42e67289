package timeline

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"
)

// Sanitization repairs arbitrary, possibly corrupt edit documents before they
// reach the render service. It never fails: offending fields are omitted or
// defaulted, unsalvageable clips are dropped from their track, and the result
// always satisfies the Document invariants. Sanitize(Sanitize(x)) is
// structurally identical to Sanitize(x).

const (
	defaultClipLength = 5
	defaultShapeFill  = "#FFFFFF"
)

var hexColorRe = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

var (
	audioExts = []string{".mp3", ".wav", ".m4a", ".aac", ".ogg", ".flac"}
	videoExts = []string{".mp4", ".mov", ".webm", ".mkv", ".avi", ".m4v"}
)

// Sanitize decodes raw JSON and normalizes it into a valid Document.
// Undecodable input yields an empty document.
func Sanitize(raw []byte) Document {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Document{Timeline: Tracks{Tracks: []Track{}}}
	}
	return SanitizeValue(v)
}

// SanitizeValue normalizes an already-decoded JSON value. The input is never
// mutated; every kept fragment is copied into fresh values.
func SanitizeValue(v any) Document {
	doc := Document{Timeline: Tracks{Tracks: []Track{}}}
	m, ok := v.(map[string]any)
	if !ok {
		return doc
	}
	if out, ok := m["output"].(map[string]any); ok {
		if size, ok := out["size"].(map[string]any); ok {
			if w, ok := asNumber(size["width"]); ok && w > 0 {
				doc.Output.Size.Width = int(w)
			}
			if h, ok := asNumber(size["height"]); ok && h > 0 {
				doc.Output.Size.Height = int(h)
			}
		}
	}
	tl, ok := m["timeline"].(map[string]any)
	if !ok {
		return doc
	}
	if bg, ok := tl["background"].(string); ok && hexColorRe.MatchString(bg) {
		doc.Timeline.Background = bg
	}
	rawTracks, ok := tl["tracks"].([]any)
	if !ok {
		// Track-less document: salvage the non-track fields and stop.
		return doc
	}
	tracks := make([]Track, 0, len(rawTracks))
	for _, rt := range rawTracks {
		track := Track{Clips: []Clip{}}
		tm, ok := rt.(map[string]any)
		if ok {
			if rawClips, ok := tm["clips"].([]any); ok {
				for _, rc := range rawClips {
					if clip, ok := sanitizeClip(rc); ok {
						track.Clips = append(track.Clips, clip)
					}
				}
			}
		}
		tracks = append(tracks, track)
	}
	doc.Timeline.Tracks = tracks
	return doc
}

// sanitizeClip maps one raw clip through the normalization steps. A clip
// whose asset cannot be normalized is dropped entirely; the track keeps its
// other clips.
func sanitizeClip(v any) (Clip, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return Clip{}, false
	}
	asset, ok := normalizeAsset(m["asset"])
	if !ok {
		return Clip{}, false
	}
	clip := Clip{Asset: asset}

	if start, ok := asNumber(m["start"]); ok && start >= 0 {
		clip.Start = start
	}
	clip.Length = defaultClipLength
	if length, ok := asNumber(m["length"]); ok && length > 0 {
		clip.Length = length
	}
	clip.Effect = normalizeEffect(m["effect"])
	clip.Transition = normalizeTransition(m["transition"])
	return clip, true
}

// normalizeEffect keeps a non-empty string verbatim and flattens an object
// carrying a string value field; anything else is discarded.
func normalizeEffect(v any) string {
	switch e := v.(type) {
	case string:
		return e
	case map[string]any:
		if s, ok := e["value"].(string); ok {
			return s
		}
	}
	return ""
}

func normalizeTransition(v any) *Transition {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	var tr Transition
	if in, ok := m["in"].(string); ok {
		tr.In = in
	}
	if out, ok := m["out"].(string); ok {
		tr.Out = out
	}
	if tr.In == "" && tr.Out == "" {
		return nil
	}
	return &tr
}

// normalizeAsset resolves the variant (inferring the discriminant when it is
// missing or invalid) and copies only the fields valid for that variant into
// a fresh Asset. ok is false when the asset is unsalvageable.
func normalizeAsset(v any) (Asset, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return Asset{}, false
	}
	typ, ok := resolveAssetType(m)
	if !ok {
		return Asset{}, false
	}
	asset := Asset{Type: typ}
	switch typ {
	case AssetText:
		text, ok := m["text"].(string)
		if !ok {
			return Asset{}, false
		}
		asset.Text = text
		if color, ok := m["color"].(string); ok && hexColorRe.MatchString(color) {
			asset.Color = color
		}
		asset.Background = normalizeBackground(m["background"])
	case AssetImage, AssetVideo, AssetAudio, AssetLuma:
		src, ok := m["src"].(string)
		if !ok || src == "" {
			// No meaningful fallback for a missing source.
			return Asset{}, false
		}
		asset.Src = src
		if typ == AssetAudio || typ == AssetVideo {
			if vol, ok := asNumber(m["volume"]); ok {
				vol = math.Min(math.Max(vol, 0), 1)
				asset.Volume = &vol
			}
		}
	case AssetShape:
		shape, ok := m["shape"].(string)
		if !ok || !validShape(shape) {
			return Asset{}, false
		}
		asset.Shape = shape
		asset.Background = normalizeBackground(m["background"])
		if asset.Background == nil {
			// A shape is invisible without a fill.
			asset.Background = &Background{Color: defaultShapeFill, Opacity: 1}
		}
	case AssetHTML:
		if html, ok := m["html"].(string); ok {
			asset.HTML = html
		}
		if css, ok := m["css"].(string); ok {
			asset.CSS = css
		}
	}
	return asset, true
}

// resolveAssetType applies the legacy alias and, failing a valid declared
// type, infers the variant from field presence.
func resolveAssetType(m map[string]any) (AssetType, bool) {
	if declared, ok := m["type"].(string); ok {
		if declared == "title" {
			return AssetText, true
		}
		if t := AssetType(declared); t.Valid() {
			return t, true
		}
	}
	if _, ok := m["text"].(string); ok {
		return AssetText, true
	}
	if _, ok := m["html"].(string); ok {
		return AssetHTML, true
	}
	if src, ok := m["src"].(string); ok && src != "" {
		return inferMediaType(src), true
	}
	if _, ok := m["shape"]; ok {
		return AssetShape, true
	}
	return "", false
}

func inferMediaType(src string) AssetType {
	path := strings.ToLower(src)
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	for _, ext := range audioExts {
		if strings.HasSuffix(path, ext) {
			return AssetAudio
		}
	}
	for _, ext := range videoExts {
		if strings.HasSuffix(path, ext) {
			return AssetVideo
		}
	}
	return AssetImage
}

// normalizeBackground accepts either a bare hex string or an object with a
// color field and returns the canonical {color, opacity} value, or nil when
// no valid color can be extracted.
func normalizeBackground(v any) *Background {
	switch bg := v.(type) {
	case string:
		if hexColorRe.MatchString(bg) {
			return &Background{Color: bg, Opacity: 1}
		}
	case map[string]any:
		color, ok := bg["color"].(string)
		if !ok || !hexColorRe.MatchString(color) {
			return nil
		}
		opacity := 1.0
		if o, ok := asNumber(bg["opacity"]); ok {
			opacity = math.Min(math.Max(o, 0), 1)
		}
		return &Background{Color: color, Opacity: opacity}
	}
	return nil
}

// asNumber accepts the numeric types a decoded JSON value or programmatic
// caller may carry and rejects NaN and infinities.
func asNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

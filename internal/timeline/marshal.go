package timeline

import "encoding/json"

// MarshalJSON emits exactly the fields valid for the asset's variant. This is
// what keeps the wire format closed: required-but-empty fields (a text asset
// with text "", an html asset with empty markup) survive a round trip, and a
// field foreign to the variant can never leak out.
func (a Asset) MarshalJSON() ([]byte, error) {
	switch a.Type {
	case AssetText:
		return json.Marshal(struct {
			Type       AssetType   `json:"type"`
			Text       string      `json:"text"`
			Color      string      `json:"color,omitempty"`
			Background *Background `json:"background,omitempty"`
		}{a.Type, a.Text, a.Color, a.Background})
	case AssetImage, AssetVideo, AssetAudio, AssetLuma:
		return json.Marshal(struct {
			Type   AssetType `json:"type"`
			Src    string    `json:"src"`
			Volume *float64  `json:"volume,omitempty"`
		}{a.Type, a.Src, a.Volume})
	case AssetShape:
		return json.Marshal(struct {
			Type       AssetType   `json:"type"`
			Shape      string      `json:"shape"`
			Background *Background `json:"background,omitempty"`
		}{a.Type, a.Shape, a.Background})
	case AssetHTML:
		return json.Marshal(struct {
			Type AssetType `json:"type"`
			HTML string    `json:"html"`
			CSS  string    `json:"css"`
		}{a.Type, a.HTML, a.CSS})
	}
	// Unknown variant: emit the discriminant only. Sanitization never
	// produces this; it guards hand-built values.
	return json.Marshal(struct {
		Type AssetType `json:"type"`
	}{a.Type})
}

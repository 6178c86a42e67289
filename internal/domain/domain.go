package domain

type Project struct {
	ID           string  `json:"id"`
	UserID       string  `json:"user_id"`
	Title        string  `json:"title"`
	Status       string  `json:"status" enum:"idea,scripting,rendering,rendered,failed,scheduled,published,autopilot"`
	EditJSON     *string `json:"edit_json,omitempty"`
	RenderJobID  *string `json:"render_job_id,omitempty"`
	VideoURL     *string `json:"video_url,omitempty"`
	AnalysisJSON *string `json:"analysis_json,omitempty"`
	ScheduledAt  *string `json:"scheduled_at,omitempty" format:"date-time"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

// RenderJob records one render request and its terminal outcome. Rows are
// created queued by the submitter, moved to a terminal state only by the
// callback handler, and never deleted.
type RenderJob struct {
	ID           string  `json:"id"`
	ProjectID    string  `json:"project_id"`
	UserID       string  `json:"user_id"`
	Status       string  `json:"status" enum:"queued,rendering,done,failed"`
	ProviderID   *string `json:"provider_id,omitempty"`
	PayloadJSON  string  `json:"payload_json"`
	OutputURL    *string `json:"output_url,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

// Render job statuses.
const (
	JobQueued    = "queued"
	JobRendering = "rendering"
	JobDone      = "done"
	JobFailed    = "failed"
)

type Notification struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	ProjectID string  `json:"project_id"`
	JobID     *string `json:"job_id,omitempty"`
	Kind      string  `json:"kind" enum:"render.done,render.failed"`
	Message   string  `json:"message"`
	IsRead    bool    `json:"is_read"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// Notification kinds written by the callback handler.
const (
	NotifyRenderDone   = "render.done"
	NotifyRenderFailed = "render.failed"
)

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

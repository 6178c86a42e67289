package server

import (
	"encoding/json"

	"cutline/internal/domain"
	"cutline/internal/engine"
	"cutline/internal/timeline"
)

type CreateProjectRequest struct {
	ID        string `json:"id,omitempty"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	Autopilot bool   `json:"autopilot,omitempty"`
}

type SetStatusRequest struct {
	Status string `json:"status" enum:"idea,scripting,scheduled,published,autopilot"`
	// ScheduledAt records the planned publish time when moving to
	// scheduled. RFC3339, ignored for other statuses.
	ScheduledAt string `json:"scheduled_at,omitempty" format:"date-time"`
}

type SubmitRenderRequest struct {
	// Document is the edit to render. When omitted the project's stored
	// edit is submitted.
	Document json.RawMessage `json:"document,omitempty"`
}

type ProjectResponse struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Title       string  `json:"title"`
	Status      string  `json:"status"`
	RenderJobID *string `json:"render_job_id,omitempty"`
	VideoURL    *string `json:"video_url,omitempty"`
	ScheduledAt *string `json:"scheduled_at,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

type EditResponse struct {
	ProjectID string            `json:"project_id"`
	Exists    bool              `json:"exists"`
	Document  timeline.Document `json:"document"`
}

type RenderJobResponse struct {
	ID           string  `json:"id"`
	ProjectID    string  `json:"project_id"`
	Status       string  `json:"status"`
	ProviderID   *string `json:"provider_id,omitempty"`
	OutputURL    *string `json:"output_url,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

type CallbackResponse struct {
	ProjectID     string `json:"project_id"`
	ProjectStatus string `json:"project_status,omitempty"`
	JobID         string `json:"job_id,omitempty"`
	Ignored       bool   `json:"ignored,omitempty"`
}

type NotificationResponse struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	ProjectID string  `json:"project_id"`
	JobID     *string `json:"job_id,omitempty"`
	Kind      string  `json:"kind"`
	Message   string  `json:"message"`
	IsRead    bool    `json:"is_read"`
	CreatedAt string  `json:"created_at"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		UserID:      p.UserID,
		Title:       p.Title,
		Status:      p.Status,
		RenderJobID: p.RenderJobID,
		VideoURL:    p.VideoURL,
		ScheduledAt: p.ScheduledAt,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func jobResponse(j domain.RenderJob) RenderJobResponse {
	return RenderJobResponse{
		ID:           j.ID,
		ProjectID:    j.ProjectID,
		Status:       j.Status,
		ProviderID:   j.ProviderID,
		OutputURL:    j.OutputURL,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}

func mapJobs(items []domain.RenderJob) []RenderJobResponse {
	res := make([]RenderJobResponse, 0, len(items))
	for _, j := range items {
		res = append(res, jobResponse(j))
	}
	return res
}

func notificationResponse(n domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		ProjectID: n.ProjectID,
		JobID:     n.JobID,
		Kind:      n.Kind,
		Message:   n.Message,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

func mapNotifications(items []domain.Notification) []NotificationResponse {
	res := make([]NotificationResponse, 0, len(items))
	for _, n := range items {
		res = append(res, notificationResponse(n))
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	payload := json.RawMessage([]byte("{}"))
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage([]byte(e.Payload))
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}

func callbackResponse(projectID string, out engine.CallbackOutcome) CallbackResponse {
	return CallbackResponse{
		ProjectID:     projectID,
		ProjectStatus: out.ProjectStatus,
		JobID:         out.JobID,
		Ignored:       out.Ignored,
	}
}

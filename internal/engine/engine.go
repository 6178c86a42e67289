package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"cutline/internal/config"
	"cutline/internal/domain"
	"cutline/internal/events"
	"cutline/internal/logging"
	"cutline/internal/render"
	"cutline/internal/repo"
	"cutline/internal/status"
	"cutline/internal/timeline"
)

// Engine drives the project lifecycle: it owns submission to the render
// service and the terminal transition applied when the service calls back.
// Both entry points are stateless; concurrency correctness rests on the
// store's per-row atomic updates.
type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Dispatcher render.Dispatcher
	Log        *slog.Logger
	Now        func() time.Time
}

func New(db *sql.DB, cfg *config.Config, dispatcher render.Dispatcher, log *slog.Logger) Engine {
	if log == nil {
		log = logging.Discard()
	}
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     events.Writer{DB: db},
		Config:     cfg,
		Dispatcher: dispatcher,
		Log:        log,
		Now:        time.Now,
	}
}

var (
	// ErrAlreadyRendering rejects a submission while a render is in flight.
	ErrAlreadyRendering = errors.New("project is already rendering")
	// ErrEditingLocked rejects edit writes while a render is in flight.
	ErrEditingLocked = errors.New("project is rendering; editing is locked")
	// ErrMissingProjectID rejects a callback without a project identifier.
	ErrMissingProjectID = errors.New("project id is required")
)

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// CreateProject inserts a project in its entry state: idea for user-created
// drafts, autopilot for system-generated ones.
func (e Engine) CreateProject(ctx context.Context, id, userID, title string, autopilot bool, actorID string) (domain.Project, error) {
	if title == "" {
		return domain.Project{}, errors.New("title is required")
	}
	if userID == "" {
		return domain.Project{}, errors.New("user is required")
	}
	if id == "" {
		id = uuid.New().String()
	}
	now := e.nowRFC3339()
	p := domain.Project{
		ID:        id,
		UserID:    userID,
		Title:     title,
		Status:    string(status.Idea),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if autopilot {
		p.Status = string(status.Autopilot)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, actorID, events.EventPayload{"status": p.Status}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// SetStatus applies a user-driven transition (open a draft, schedule,
// publish, retry after failure). Moves into rendering, rendered, or failed
// are owned by Submit and HandleCallback and are refused here.
func (e Engine) SetStatus(ctx context.Context, projectID string, to status.Status, actorID string) (domain.Project, error) {
	switch to {
	case status.Rendering, status.Rendered, status.Failed:
		return domain.Project{}, fmt.Errorf("status %s is not user-assignable", to)
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return p, err
	}
	from := status.Status(p.Status)
	if err := status.Transition(from, to); err != nil {
		return p, err
	}
	now := e.nowRFC3339()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetProjectStatusTx(ctx, tx, projectID, string(to), now); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, events.ProjectStatusChanged, projectID, "project", projectID, actorID, events.EventPayload{
		"from": string(from),
		"to":   string(to),
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	p.Status = string(to)
	p.UpdatedAt = now
	return p, nil
}

// Schedule moves a rendered project to scheduled and records the publish
// time. An empty scheduledAt clears it.
func (e Engine) Schedule(ctx context.Context, projectID, scheduledAt, actorID string) (domain.Project, error) {
	if scheduledAt != "" {
		if _, err := time.Parse(time.RFC3339, scheduledAt); err != nil {
			return domain.Project{}, fmt.Errorf("invalid scheduled_at: %w", err)
		}
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return p, err
	}
	from := status.Status(p.Status)
	if err := status.Transition(from, status.Scheduled); err != nil {
		return p, err
	}
	now := e.nowRFC3339()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetProjectStatusTx(ctx, tx, projectID, string(status.Scheduled), now); err != nil {
		return p, err
	}
	var at *string
	if scheduledAt != "" {
		at = &scheduledAt
	}
	if err := e.Repo.SetProjectScheduleTx(ctx, tx, projectID, at, now); err != nil {
		return p, err
	}
	payload := events.EventPayload{"from": string(from), "to": string(status.Scheduled)}
	if scheduledAt != "" {
		payload["scheduled_at"] = scheduledAt
	}
	if err := e.Events.Append(ctx, tx, events.ProjectStatusChanged, projectID, "project", projectID, actorID, payload); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	p.Status = string(status.Scheduled)
	p.ScheduledAt = at
	p.UpdatedAt = now
	return p, nil
}

// SaveEdit sanitizes a raw document and persists it as the project's stored
// edit. Refused while a render is in flight.
func (e Engine) SaveEdit(ctx context.Context, projectID string, raw []byte, actorID string) (timeline.Document, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return timeline.Document{}, err
	}
	if status.Status(p.Status).EditingLocked() {
		return timeline.Document{}, ErrEditingLocked
	}
	doc := timeline.Sanitize(raw)
	data, err := json.Marshal(doc)
	if err != nil {
		return doc, fmt.Errorf("marshal edit: %w", err)
	}
	now := e.nowRFC3339()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return doc, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetProjectEditTx(ctx, tx, projectID, string(data), now); err != nil {
		return doc, err
	}
	if err := e.Events.Append(ctx, tx, events.EditSaved, projectID, "project", projectID, actorID, events.EventPayload{
		"clips":  doc.ClipCount(),
		"tracks": len(doc.Timeline.Tracks),
	}); err != nil {
		return doc, err
	}
	return doc, tx.Commit()
}

// Edit returns the project's stored edit document, or false when none has
// been saved yet (callers then fall back to the draft cache).
func (e Engine) Edit(ctx context.Context, projectID string) (timeline.Document, bool, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return timeline.Document{}, false, err
	}
	if p.EditJSON == nil || *p.EditJSON == "" {
		return timeline.Document{}, false, nil
	}
	return timeline.Sanitize([]byte(*p.EditJSON)), true, nil
}

// Submit sanitizes the document, records a queued render job, flips the
// project into rendering, and dispatches to the external service. A dispatch
// failure rolls the status back to its prior value; the job row is left
// queued for worker-driven retry.
func (e Engine) Submit(ctx context.Context, projectID string, raw []byte, actorID string) (domain.RenderJob, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.RenderJob{}, err
	}
	prior := status.Status(p.Status)
	if prior == status.Rendering {
		return domain.RenderJob{}, ErrAlreadyRendering
	}
	if err := status.Transition(prior, status.Rendering); err != nil {
		return domain.RenderJob{}, err
	}
	doc := timeline.Sanitize(raw)
	payload, err := json.Marshal(doc)
	if err != nil {
		return domain.RenderJob{}, fmt.Errorf("marshal payload: %w", err)
	}

	now := e.nowRFC3339()
	job := domain.RenderJob{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		UserID:      p.UserID,
		Status:      domain.JobQueued,
		PayloadJSON: string(payload),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RenderJob{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.BeginRenderTx(ctx, tx, projectID, string(prior), string(payload), now); err != nil {
		if errors.Is(err, repo.ErrStatusConflict) {
			return domain.RenderJob{}, ErrAlreadyRendering
		}
		return domain.RenderJob{}, err
	}
	if err := e.Repo.InsertRenderJobTx(ctx, tx, job); err != nil {
		return domain.RenderJob{}, fmt.Errorf("insert render job: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.RenderSubmitted, projectID, "render_job", job.ID, actorID, events.EventPayload{
		"from":  string(prior),
		"clips": doc.ClipCount(),
	}); err != nil {
		return domain.RenderJob{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RenderJob{}, err
	}

	providerID, err := e.Dispatcher.Dispatch(ctx, render.Request{
		ProjectID:   projectID,
		Timeline:    doc,
		CallbackURL: e.callbackURL(projectID, job.ID),
	})
	if err != nil {
		e.Log.Error("render dispatch failed", "project_id", projectID, "job_id", job.ID, "error", err)
		if rbErr := e.rollbackSubmit(ctx, projectID, prior, job.ID, actorID); rbErr != nil {
			e.Log.Error("status rollback failed", "project_id", projectID, "error", rbErr)
		}
		return domain.RenderJob{}, fmt.Errorf("dispatch render: %w", err)
	}

	now = e.nowRFC3339()
	tx, err = e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RenderJob{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetJobProviderTx(ctx, tx, job.ID, providerID, now); err != nil {
		return domain.RenderJob{}, err
	}
	if err := e.Repo.SetProjectProviderJobTx(ctx, tx, projectID, providerID, now); err != nil {
		return domain.RenderJob{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RenderJob{}, err
	}
	job.ProviderID = &providerID
	e.Log.Info("render submitted", "project_id", projectID, "job_id", job.ID, "provider_id", providerID)
	return job, nil
}

func (e Engine) rollbackSubmit(ctx context.Context, projectID string, prior status.Status, jobID, actorID string) error {
	now := e.nowRFC3339()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RollbackRenderTx(ctx, tx, projectID, string(prior), now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ProjectStatusChanged, projectID, "render_job", jobID, actorID, events.EventPayload{
		"from":   string(status.Rendering),
		"to":     string(prior),
		"reason": "dispatch_failed",
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) callbackURL(projectID, jobID string) string {
	base := ""
	if e.Config != nil {
		base = e.Config.Render.CallbackBaseURL
	}
	if base == "" {
		return ""
	}
	q := url.Values{}
	q.Set("project_id", projectID)
	if e.Config.Render.CallbackSecret != "" {
		token, err := SignCallbackToken(e.Config.Render.CallbackSecret, projectID, jobID, e.now())
		if err == nil {
			q.Set("token", token)
		} else {
			e.Log.Error("sign callback token", "project_id", projectID, "error", err)
		}
	}
	return base + "/render/callback?" + q.Encode()
}

// Callback is the payload the render service posts when a job finishes.
type Callback struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	URL    string          `json:"url,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  *CallbackError  `json:"error,omitempty"`
}

type CallbackError struct {
	Message string `json:"message"`
}

// CallbackOutcome describes what a callback delivery changed.
type CallbackOutcome struct {
	ProjectStatus string
	JobID         string
	Ignored       bool
	Notified      bool
}

// HandleCallback performs the terminal state transition for a render job and
// notifies the project's owner. It is idempotent in effect: redelivering the
// same terminal callback leaves the rows in the same final state, and the
// notification unique index keeps a duplicate row from appearing.
func (e Engine) HandleCallback(ctx context.Context, projectID string, cb Callback, actorID string) (CallbackOutcome, error) {
	if projectID == "" {
		return CallbackOutcome{}, ErrMissingProjectID
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return CallbackOutcome{}, err
	}

	var target status.Status
	var eventType, message string
	var outputURL, errorMessage *string
	switch cb.Status {
	case "done":
		target = status.Rendered
		eventType = events.RenderCompleted
		message = fmt.Sprintf("Your video %q is ready.", p.Title)
		if cb.URL != "" {
			outputURL = &cb.URL
		}
	case "failed":
		target = status.Failed
		eventType = events.RenderFailed
		msg := "The render service reported an unknown error."
		if cb.Error != nil && cb.Error.Message != "" {
			msg = cb.Error.Message
		}
		errorMessage = &msg
		message = fmt.Sprintf("Rendering %q failed: %s", p.Title, msg)
	default:
		// Service is still working; nothing to record.
		return CallbackOutcome{ProjectStatus: p.Status, Ignored: true}, nil
	}

	job, err := e.Repo.FindJobForCallback(ctx, projectID, cb.ID)
	jobFound := err == nil
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return CallbackOutcome{}, err
	}

	now := e.nowRFC3339()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CallbackOutcome{}, err
	}
	defer tx.Rollback()

	jobStatus := domain.JobDone
	if target == status.Failed {
		jobStatus = domain.JobFailed
	}
	if jobFound {
		if err := e.Repo.FinishJobTx(ctx, tx, job.ID, jobStatus, outputURL, errorMessage, now); err != nil {
			return CallbackOutcome{}, err
		}
	}

	// Apply the project flip when the render is in flight, or re-apply the
	// same terminal state on redelivery. A callback that lands after the
	// user has already moved on (e.g. failed -> scripting retry) only
	// settles the job row.
	current := status.Status(p.Status)
	if current == status.Rendering || current == target {
		if err := e.Repo.FinishRenderTx(ctx, tx, projectID, string(target), outputURL, now); err != nil {
			return CallbackOutcome{}, err
		}
		current = target
	} else {
		e.Log.Warn("stale render callback", "project_id", projectID, "status", p.Status, "callback_status", cb.Status)
	}

	notification := domain.Notification{
		ID:        uuid.New().String(),
		UserID:    p.UserID,
		ProjectID: projectID,
		Kind:      domain.NotifyRenderDone,
		Message:   message,
		CreatedAt: now,
	}
	if target == status.Failed {
		notification.Kind = domain.NotifyRenderFailed
	}
	if jobFound {
		notification.JobID = &job.ID
	}
	notified, err := e.Repo.InsertNotificationTx(ctx, tx, notification)
	if err != nil {
		return CallbackOutcome{}, err
	}

	payload := events.EventPayload{"callback_status": cb.Status}
	if cb.URL != "" {
		payload["url"] = cb.URL
	}
	if errorMessage != nil {
		payload["error"] = *errorMessage
	}
	entityID := cb.ID
	if jobFound {
		entityID = job.ID
	}
	if err := e.Events.Append(ctx, tx, eventType, projectID, "render_job", entityID, actorID, payload); err != nil {
		return CallbackOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return CallbackOutcome{}, err
	}

	out := CallbackOutcome{ProjectStatus: string(current), Notified: notified}
	if jobFound {
		out.JobID = job.ID
	}
	return out, nil
}

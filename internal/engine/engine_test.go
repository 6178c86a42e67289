package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"cutline/internal/config"
	"cutline/internal/db"
	"cutline/internal/migrate"
	"cutline/internal/render"
	"cutline/internal/repo"
	"cutline/internal/status"
)

type fakeDispatcher struct {
	jobID    string
	err      error
	requests []render.Request
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req render.Request) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return f.jobID, nil
}

func newTestEngine(t *testing.T, d render.Dispatcher) Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Render.URL = "http://render.test"
	cfg.Render.CallbackBaseURL = "http://cutline.test/v1"
	cfg.Render.CallbackSecret = "test-secret"
	e := New(conn, cfg, d, nil)
	e.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

const editJSON = `{
	"output": {"size": {"width": 1280, "height": 720}},
	"timeline": {"tracks": [
		{"clips": [{"asset": {"type": "text", "text": "Hello"}, "start": 0, "length": 3}]}
	]}
}`

func TestRenderLifecycle(t *testing.T) {
	ctx := context.Background()
	d := &fakeDispatcher{jobID: "prov-1"}
	e := newTestEngine(t, d)

	p, err := e.CreateProject(ctx, "", "user-1", "My video", false, "user-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Status != string(status.Idea) {
		t.Fatalf("new project status = %s, want idea", p.Status)
	}
	if _, err := e.SetStatus(ctx, p.ID, status.Scripting, "user-1"); err != nil {
		t.Fatalf("idea -> scripting: %v", err)
	}

	job, err := e.Submit(ctx, p.ID, []byte(editJSON), "user-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.ProviderID == nil || *job.ProviderID != "prov-1" {
		t.Fatalf("job provider id = %v, want prov-1", job.ProviderID)
	}
	if len(d.requests) != 1 {
		t.Fatalf("dispatch calls = %d, want 1", len(d.requests))
	}
	if got := d.requests[0].Timeline.ClipCount(); got != 1 {
		t.Fatalf("dispatched clip count = %d, want 1", got)
	}
	if d.requests[0].CallbackURL == "" {
		t.Fatal("dispatched request has no callback url")
	}

	got, err := e.Repo.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != string(status.Rendering) {
		t.Fatalf("status after submit = %s, want rendering", got.Status)
	}
	if got.VideoURL != nil {
		t.Fatal("video url should be cleared on submit")
	}

	out, err := e.HandleCallback(ctx, p.ID, Callback{
		ID:     "prov-1",
		Status: "done",
		URL:    "http://cdn.test/out.mp4",
	}, "render-service")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if out.ProjectStatus != string(status.Rendered) {
		t.Fatalf("callback status = %s, want rendered", out.ProjectStatus)
	}
	if !out.Notified {
		t.Fatal("first callback should create a notification")
	}

	got, err = e.Repo.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.VideoURL == nil || *got.VideoURL != "http://cdn.test/out.mp4" {
		t.Fatalf("video url = %v, want callback url", got.VideoURL)
	}
	j, err := e.Repo.GetRenderJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != "done" {
		t.Fatalf("job status = %s, want done", j.Status)
	}

	if _, err := e.SetStatus(ctx, p.ID, status.Published, "user-1"); err != nil {
		t.Fatalf("rendered -> published: %v", err)
	}
}

func TestSubmitDispatchFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	d := &fakeDispatcher{err: errors.New("service down")}
	e := newTestEngine(t, d)

	p, _ := e.CreateProject(ctx, "", "user-1", "Flaky", false, "user-1")
	if _, err := e.SetStatus(ctx, p.ID, status.Scripting, "user-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Submit(ctx, p.ID, []byte(editJSON), "user-1"); err == nil {
		t.Fatal("submit should fail when dispatch fails")
	}

	got, err := e.Repo.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != string(status.Scripting) {
		t.Fatalf("status after failed dispatch = %s, want scripting", got.Status)
	}
	jobs, err := e.Repo.ListRenderJobs(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Status != "queued" {
		t.Fatalf("jobs = %+v, want one queued row kept for retry", jobs)
	}

	// Retry succeeds once the service is back.
	d.err = nil
	d.jobID = "prov-2"
	if _, err := e.Submit(ctx, p.ID, []byte(editJSON), "user-1"); err != nil {
		t.Fatalf("retry submit: %v", err)
	}
}

func TestSubmitWhileRenderingConflicts(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, &fakeDispatcher{jobID: "prov-1"})

	p, _ := e.CreateProject(ctx, "", "user-1", "Busy", false, "user-1")
	e.SetStatus(ctx, p.ID, status.Scripting, "user-1")
	if _, err := e.Submit(ctx, p.ID, []byte(editJSON), "user-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Submit(ctx, p.ID, []byte(editJSON), "user-1"); !errors.Is(err, ErrAlreadyRendering) {
		t.Fatalf("second submit error = %v, want ErrAlreadyRendering", err)
	}
}

func TestConcurrentSubmitSingleWinner(t *testing.T) {
	ctx := context.Background()
	d := &fakeDispatcher{jobID: "prov-1"}
	e := newTestEngine(t, d)

	p, _ := e.CreateProject(ctx, "", "user-1", "Contested", false, "user-1")
	e.SetStatus(ctx, p.ID, status.Scripting, "user-1")

	// A rival submitter commits inside the loser's window between reading
	// the project and flipping its status. The Now hook runs exactly there,
	// so the loser's flip must hit the zero-rows guard, not the early
	// already-rendering check.
	rival := e
	rival.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 1, 0, time.UTC) }
	flipped := false
	e.Now = func() time.Time {
		if !flipped {
			flipped = true
			if _, err := rival.Submit(ctx, p.ID, []byte(editJSON), "user-1"); err != nil {
				t.Fatalf("rival submit: %v", err)
			}
		}
		return time.Date(2024, 5, 1, 12, 0, 2, 0, time.UTC)
	}
	if _, err := e.Submit(ctx, p.ID, []byte(editJSON), "user-1"); !errors.Is(err, ErrAlreadyRendering) {
		t.Fatalf("losing submit error = %v, want ErrAlreadyRendering", err)
	}

	got, err := e.Repo.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != string(status.Rendering) {
		t.Fatalf("status = %s, want rendering", got.Status)
	}
	jobs, err := e.Repo.ListRenderJobs(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("job rows = %d, want 1", len(jobs))
	}
	if len(d.requests) != 1 {
		t.Fatalf("dispatch calls = %d, want 1", len(d.requests))
	}
}

func TestStaleStatusFlipRejected(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, &fakeDispatcher{jobID: "prov-1"})

	p, _ := e.CreateProject(ctx, "", "user-1", "Guarded", false, "user-1")
	e.SetStatus(ctx, p.ID, status.Scripting, "user-1")
	if _, err := e.Submit(ctx, p.ID, []byte(editJSON), "user-1"); err != nil {
		t.Fatal(err)
	}

	// Replay the losing half directly: a writer that observed scripting
	// attempts the flip after the winner committed.
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	err = e.Repo.BeginRenderTx(ctx, tx, p.ID, string(status.Scripting), editJSON, e.nowRFC3339())
	if !errors.Is(err, repo.ErrStatusConflict) {
		t.Fatalf("stale flip error = %v, want ErrStatusConflict", err)
	}
}

func TestEditingLockedWhileRendering(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, &fakeDispatcher{jobID: "prov-1"})

	p, _ := e.CreateProject(ctx, "", "user-1", "Locked", false, "user-1")
	e.SetStatus(ctx, p.ID, status.Scripting, "user-1")
	if _, err := e.SaveEdit(ctx, p.ID, []byte(editJSON), "user-1"); err != nil {
		t.Fatalf("save before submit: %v", err)
	}
	if _, err := e.Submit(ctx, p.ID, []byte(editJSON), "user-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SaveEdit(ctx, p.ID, []byte(editJSON), "user-1"); !errors.Is(err, ErrEditingLocked) {
		t.Fatalf("save during render error = %v, want ErrEditingLocked", err)
	}
}

func TestDuplicateCallbackIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, &fakeDispatcher{jobID: "prov-1"})

	p, _ := e.CreateProject(ctx, "", "user-1", "Twice", false, "user-1")
	e.SetStatus(ctx, p.ID, status.Scripting, "user-1")
	if _, err := e.Submit(ctx, p.ID, []byte(editJSON), "user-1"); err != nil {
		t.Fatal(err)
	}

	cb := Callback{ID: "prov-1", Status: "done", URL: "http://cdn.test/out.mp4"}
	first, err := e.HandleCallback(ctx, p.ID, cb, "render-service")
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.HandleCallback(ctx, p.ID, cb, "render-service")
	if err != nil {
		t.Fatalf("redelivered callback: %v", err)
	}
	if second.ProjectStatus != first.ProjectStatus {
		t.Fatalf("redelivery changed status: %s then %s", first.ProjectStatus, second.ProjectStatus)
	}
	if !first.Notified || second.Notified {
		t.Fatalf("notified = %v then %v, want exactly one notification", first.Notified, second.Notified)
	}
	ns, err := e.Repo.ListProjectNotifications(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ns) != 1 {
		t.Fatalf("notifications = %d, want 1", len(ns))
	}
}

func TestFailedCallbackAllowsRetry(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, &fakeDispatcher{jobID: "prov-1"})

	p, _ := e.CreateProject(ctx, "", "user-1", "Retryable", false, "user-1")
	e.SetStatus(ctx, p.ID, status.Scripting, "user-1")
	if _, err := e.Submit(ctx, p.ID, []byte(editJSON), "user-1"); err != nil {
		t.Fatal(err)
	}
	out, err := e.HandleCallback(ctx, p.ID, Callback{ID: "prov-1", Status: "failed"}, "render-service")
	if err != nil {
		t.Fatal(err)
	}
	if out.ProjectStatus != string(status.Failed) {
		t.Fatalf("status = %s, want failed", out.ProjectStatus)
	}
	ns, _ := e.Repo.ListProjectNotifications(ctx, p.ID)
	if len(ns) != 1 || ns[0].Kind != "render.failed" {
		t.Fatalf("notifications = %+v, want one render.failed", ns)
	}
	if ns[0].Message == "" {
		t.Fatal("failure notification should carry a message")
	}

	if _, err := e.SetStatus(ctx, p.ID, status.Scripting, "user-1"); err != nil {
		t.Fatalf("failed -> scripting retry: %v", err)
	}
}

func TestStaleCallbackLeavesProjectAlone(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, &fakeDispatcher{jobID: "prov-1"})

	p, _ := e.CreateProject(ctx, "", "user-1", "Stale", false, "user-1")
	e.SetStatus(ctx, p.ID, status.Scripting, "user-1")
	if _, err := e.Submit(ctx, p.ID, []byte(editJSON), "user-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.HandleCallback(ctx, p.ID, Callback{ID: "prov-1", Status: "failed"}, "render-service"); err != nil {
		t.Fatal(err)
	}
	// User has already moved on to a new attempt.
	if _, err := e.SetStatus(ctx, p.ID, status.Scripting, "user-1"); err != nil {
		t.Fatal(err)
	}

	out, err := e.HandleCallback(ctx, p.ID, Callback{ID: "prov-1", Status: "done", URL: "http://cdn.test/late.mp4"}, "render-service")
	if err != nil {
		t.Fatal(err)
	}
	if out.ProjectStatus != string(status.Scripting) {
		t.Fatalf("stale callback flipped status to %s", out.ProjectStatus)
	}
}

func TestCallbackRequiresProjectID(t *testing.T) {
	e := newTestEngine(t, &fakeDispatcher{})
	if _, err := e.HandleCallback(context.Background(), "", Callback{Status: "done"}, "render-service"); !errors.Is(err, ErrMissingProjectID) {
		t.Fatalf("error = %v, want ErrMissingProjectID", err)
	}
}

func TestCallbackIgnoresUnknownStatus(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, &fakeDispatcher{jobID: "prov-1"})

	p, _ := e.CreateProject(ctx, "", "user-1", "Heartbeat", false, "user-1")
	e.SetStatus(ctx, p.ID, status.Scripting, "user-1")
	e.Submit(ctx, p.ID, []byte(editJSON), "user-1")

	out, err := e.HandleCallback(ctx, p.ID, Callback{ID: "prov-1", Status: "rendering"}, "render-service")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Ignored {
		t.Fatal("progress callback should be ignored")
	}
	got, _ := e.Repo.GetProject(ctx, p.ID)
	if got.Status != string(status.Rendering) {
		t.Fatalf("status = %s, want rendering", got.Status)
	}
}

func TestCallbackUnknownProject(t *testing.T) {
	e := newTestEngine(t, &fakeDispatcher{})
	_, err := e.HandleCallback(context.Background(), "nope", Callback{Status: "done"}, "render-service")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestCallbackToken(t *testing.T) {
	now := time.Now()
	token, err := SignCallbackToken("s3cret", "proj-1", "job-1", now)
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyCallbackToken("s3cret", token, "proj-1"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifyCallbackToken("s3cret", token, "proj-2"); err == nil {
		t.Fatal("token for proj-1 should not verify for proj-2")
	}
	if err := VerifyCallbackToken("wrong", token, "proj-1"); err == nil {
		t.Fatal("token should not verify with the wrong secret")
	}
}

func TestAutopilotEntry(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, &fakeDispatcher{})
	p, err := e.CreateProject(ctx, "", "user-1", "Auto", true, "system")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != string(status.Autopilot) {
		t.Fatalf("status = %s, want autopilot", p.Status)
	}
	if _, err := e.SetStatus(ctx, p.ID, status.Scripting, "user-1"); err != nil {
		t.Fatalf("autopilot -> scripting: %v", err)
	}
}

func TestScheduleRecordsPublishTime(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, &fakeDispatcher{jobID: "prov-1"})

	p, _ := e.CreateProject(ctx, "", "user-1", "Planned", false, "user-1")
	e.SetStatus(ctx, p.ID, status.Scripting, "user-1")
	if _, err := e.Schedule(ctx, p.ID, "2026-09-01T08:00:00Z", "user-1"); err == nil {
		t.Fatal("scripting -> scheduled should be rejected")
	}

	if _, err := e.Submit(ctx, p.ID, []byte(editJSON), "user-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.HandleCallback(ctx, p.ID, Callback{
		ID:     "prov-1",
		Status: "done",
		URL:    "http://cdn.test/out.mp4",
	}, "render-service"); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Schedule(ctx, p.ID, "next tuesday", "user-1"); err == nil {
		t.Fatal("non RFC3339 scheduled_at should be rejected")
	}

	scheduled, err := e.Schedule(ctx, p.ID, "2026-09-01T08:00:00Z", "user-1")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if scheduled.Status != string(status.Scheduled) {
		t.Fatalf("status = %s, want scheduled", scheduled.Status)
	}
	got, err := e.Repo.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ScheduledAt == nil || *got.ScheduledAt != "2026-09-01T08:00:00Z" {
		t.Fatalf("scheduled_at = %v, want 2026-09-01T08:00:00Z", got.ScheduledAt)
	}

	if _, err := e.SetStatus(ctx, p.ID, status.Published, "user-1"); err != nil {
		t.Fatalf("scheduled -> published: %v", err)
	}
}

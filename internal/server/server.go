package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"cutline/internal/domain"
	"cutline/internal/engine"
	"cutline/internal/repo"
	"cutline/internal/status"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"status_conflict"`
	Message string         `json:"message" example:"project is already rendering"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Cutline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Cutline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerEdits(group, cfg.Engine)
	registerRenders(group, cfg.Engine)
	registerCallback(group, cfg.Engine)
	registerNotifications(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	StartWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrAlreadyRendering), errors.Is(err, repo.ErrStatusConflict):
		return newAPIError(http.StatusConflict, "status_conflict", err.Error(), nil)
	case errors.Is(err, engine.ErrEditingLocked):
		return newAPIError(http.StatusConflict, "editing_locked", err.Error(), nil)
	case errors.Is(err, engine.ErrMissingProjectID):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "transition"):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func actorOrDefault(actor, fallback string) string {
	if strings.TrimSpace(actor) != "" {
		return actor
	}
	return fallback
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Cutline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Actor string               `header:"X-Actor-Id"`
		Body  CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if input.Body.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		actor := actorOrDefault(input.Actor, input.Body.UserID)
		p, err := e.CreateProject(ctx, input.Body.ID, input.Body.UserID, input.Body.Title, input.Body.Autopilot, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
	}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-project-status",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/status",
		Summary:     "Update project status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Actor     string           `header:"X-Actor-Id"`
		Body      SetStatusRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		actor := actorOrDefault(input.Actor, "user")
		var p domain.Project
		var err error
		if status.Status(input.Body.Status) == status.Scheduled {
			p, err = e.Schedule(ctx, input.ProjectID, input.Body.ScheduledAt, actor)
		} else {
			p, err = e.SetStatus(ctx, input.ProjectID, status.Status(input.Body.Status), actor)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-render-jobs",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/jobs",
		Summary:     "List render jobs",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []RenderJobResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		jobs, err := e.Repo.ListRenderJobs(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RenderJobResponse `json:"body"`
		}{Body: mapJobs(jobs)}, nil
	})
}

func registerEdits(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-edit",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/edit",
		Summary:     "Get stored edit document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body EditResponse `json:"body"`
	}, error) {
		doc, ok, err := e.Edit(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EditResponse `json:"body"`
		}{Body: EditResponse{ProjectID: input.ProjectID, Exists: ok, Document: doc}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-edit",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/edit",
		Summary:     "Save edit document",
		Description: "The document is sanitized before it is stored; the response carries the sanitized form.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Actor     string `header:"X-Actor-Id"`
		Body      struct {
			Document json.RawMessage `json:"document"`
		} `json:"body"`
	}) (*struct {
		Body EditResponse `json:"body"`
	}, error) {
		if len(input.Body.Document) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "document is required", nil)
		}
		doc, err := e.SaveEdit(ctx, input.ProjectID, input.Body.Document, actorOrDefault(input.Actor, "user"))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EditResponse `json:"body"`
		}{Body: EditResponse{ProjectID: input.ProjectID, Exists: true, Document: doc}}, nil
	})
}

func registerRenders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-render",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/renders",
		Summary:       "Submit project for rendering",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Actor     string              `header:"X-Actor-Id"`
		Body      SubmitRenderRequest `json:"body"`
	}) (*struct {
		Body RenderJobResponse `json:"body"`
	}, error) {
		raw := []byte(input.Body.Document)
		if len(raw) == 0 {
			p, err := e.Repo.GetProject(ctx, input.ProjectID)
			if err != nil {
				return nil, handleError(err)
			}
			if p.EditJSON == nil || *p.EditJSON == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "document is required: project has no stored edit", nil)
			}
			raw = []byte(*p.EditJSON)
		}
		job, err := e.Submit(ctx, input.ProjectID, raw, actorOrDefault(input.Actor, "user"))
		if err != nil {
			if strings.Contains(err.Error(), "dispatch render") {
				return nil, newAPIError(http.StatusBadGateway, "dispatch_failed", err.Error(), nil)
			}
			return nil, handleError(err)
		}
		return &struct {
			Body RenderJobResponse `json:"body"`
		}{Body: jobResponse(job)}, nil
	})
}

func registerCallback(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "render-callback",
		Method:      http.MethodPost,
		Path:        "/render/callback",
		Summary:     "Render service callback",
		Description: "Called by the external render service when a job reaches a terminal state. Redeliveries are accepted and leave state unchanged.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string          `query:"project_id"`
		Token     string          `query:"token"`
		Body      engine.Callback `json:"body"`
	}) (*struct {
		Body CallbackResponse `json:"body"`
	}, error) {
		// A callback without a project reference must change nothing.
		if input.ProjectID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "project_id is required", nil)
		}
		if secret := callbackSecret(e); secret != "" {
			if input.Token == "" {
				return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "callback token is required", nil)
			}
			if err := engine.VerifyCallbackToken(secret, input.Token, input.ProjectID); err != nil {
				return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid callback token", nil)
			}
		}
		out, err := e.HandleCallback(ctx, input.ProjectID, input.Body, "render-service")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CallbackResponse `json:"body"`
		}{Body: callbackResponse(input.ProjectID, out)}, nil
	})
}

func callbackSecret(e engine.Engine) string {
	if e.Config == nil {
		return ""
	}
	return e.Config.Render.CallbackSecret
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List notifications",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
		Unread bool   `query:"unread"`
	}) (*struct {
		Body []NotificationResponse `json:"body"`
	}, error) {
		if input.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		items, err := e.Repo.ListNotifications(ctx, input.UserID, input.Unread)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []NotificationResponse `json:"body"`
		}{Body: mapNotifications(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/{id}/read",
		Summary:     "Mark notification read",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := e.Repo.MarkNotificationRead(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		After     int64  `query:"after"`
		Limit     int    `query:"limit" default:"100"`
		ProjectID string `query:"project_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 100
		}
		items, err := e.Repo.EventsAfter(ctx, limit, input.After, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"formtrack/internal/domain"
	"formtrack/internal/engine"
	"formtrack/internal/overview"
	"formtrack/internal/repo"
	"formtrack/internal/report"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"training not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Formtrack API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Formtrack API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTrainers(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerTrainings(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerExpenses(group, cfg.Engine)
	registerDashboard(group, cfg.Engine)
	registerReports(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine, cfg.Logger)

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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "cannot move expense"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "unknown") ||
		strings.Contains(lowered, "required") || strings.Contains(lowered, "must be"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
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

func bodyBytes(ctx context.Context) []byte {
	if b, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return b
	}
	return nil
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
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Formtrack API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
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

func registerTrainers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-trainer",
		Method:        http.MethodPost,
		Path:          "/trainers",
		Summary:       "Register trainer",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateTrainerRequest `json:"body"`
	}) (*struct {
		Body domain.Trainer `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTrainer(ctx, input.Body.Name, input.Body.Email, input.Body.Municipality, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Trainer `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-trainers",
		Method:      http.MethodGet,
		Path:        "/trainers",
		Summary:     "List trainers",
	}, func(ctx context.Context, input *struct {
		Municipality string `query:"municipality"`
		Active       bool   `query:"active"`
	}) (*struct {
		Body []domain.Trainer `json:"body"`
	}, error) {
		items, err := e.Repo.ListTrainers(ctx, repo.TrainerFilters{
			Municipality: input.Municipality,
			ActiveOnly:   input.Active,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Trainer `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-trainer",
		Method:      http.MethodGet,
		Path:        "/trainers/{trainer_id}",
		Summary:     "Get trainer",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TrainerID string `path:"trainer_id"`
	}) (*struct {
		Body domain.Trainer `json:"body"`
	}, error) {
		t, err := e.Repo.GetTrainer(ctx, input.TrainerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Trainer `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-trainer",
		Method:      http.MethodPatch,
		Path:        "/trainers/{trainer_id}",
		Summary:     "Update trainer",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TrainerID string               `path:"trainer_id"`
		Body      UpdateTrainerRequest `json:"body"`
	}) (*struct {
		Body domain.Trainer `json:"body"`
	}, error) {
		if input.Body.Active == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "active is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.SetTrainerActive(ctx, input.TrainerID, *input.Body.Active, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Trainer `json:"body"`
		}{Body: t}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create implementation project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, input.Body.Municipality, input.Body.Region, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: items}, nil
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
		Body domain.Project `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Delete project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct{}, error) {
		if err := e.Repo.DeleteProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-milestone",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/milestones/{milestone}",
		Summary:     "Update milestone slot",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string                 `path:"project_id"`
		Milestone string                 `path:"milestone" example:"simulado-2"`
		Body      UpdateMilestoneRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		kind, seq, err := parseMilestoneName(input.Milestone)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateMilestone(ctx, input.ProjectID, kind, seq, repo.MilestoneUpdate{
			StartDate: input.Body.StartDate,
			EndDate:   input.Body.EndDate,
			Completed: input.Body.Completed,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})
}

// parseMilestoneName splits a slot name like "simulado-2" into kind and seq.
func parseMilestoneName(name string) (domain.MilestoneKind, int, error) {
	if name == string(domain.KindDiagnostic) {
		return domain.KindDiagnostic, 0, nil
	}
	idx := strings.LastIndex(name, "-")
	if idx <= 0 {
		return "", 0, fmt.Errorf("invalid milestone name %q", name)
	}
	kind := domain.MilestoneKind(name[:idx])
	seq, err := strconv.Atoi(name[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid milestone name %q", name)
	}
	return kind, seq, nil
}

func registerTrainings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-training",
		Method:        http.MethodPost,
		Path:          "/trainings",
		Summary:       "Create training session",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateTrainingRequest `json:"body"`
	}) (*struct {
		Body domain.Training `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TrainingCreateOptions{
			Title:        input.Body.Title,
			Municipality: input.Body.Municipality,
			ActorID:      actorID,
		}
		if input.Body.TrainerID != nil {
			opts.TrainerID = *input.Body.TrainerID
		}
		if input.Body.StartDate != nil {
			opts.StartDate = *input.Body.StartDate
		}
		if input.Body.EndDate != nil {
			opts.EndDate = *input.Body.EndDate
		}
		t, err := e.CreateTraining(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Training `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-trainings",
		Method:      http.MethodGet,
		Path:        "/trainings",
		Summary:     "List trainings",
	}, func(ctx context.Context, input *struct {
		Status       string `query:"status" enum:"preparation,in_training,post_training,completed,archived"`
		Municipality string `query:"municipality"`
		TrainerID    string `query:"trainer_id"`
	}) (*struct {
		Body []domain.Training `json:"body"`
	}, error) {
		items, err := e.Repo.ListTrainings(ctx, repo.TrainingFilters{
			Status:       input.Status,
			Municipality: input.Municipality,
			TrainerID:    input.TrainerID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Training `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-training",
		Method:      http.MethodGet,
		Path:        "/trainings/{training_id}",
		Summary:     "Get training",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TrainingID string `path:"training_id"`
	}) (*struct {
		Body domain.Training `json:"body"`
	}, error) {
		t, err := e.Repo.GetTraining(ctx, input.TrainingID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Training `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-training-status",
		Method:      http.MethodPatch,
		Path:        "/trainings/{training_id}/status",
		Summary:     "Set training status",
		Description: "Moves the training through its lifecycle. Statuses with a configured automation rule spawn their follow-up task exactly once.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		TrainingID string                   `path:"training_id"`
		Body       SetTrainingStatusRequest `json:"body"`
	}) (*struct {
		Body SetTrainingStatusResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, task, err := e.SetTrainingStatus(ctx, input.TrainingID, domain.TrainingStatus(input.Body.Status), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SetTrainingStatusResponse `json:"body"`
		}{Body: SetTrainingStatusResponse{Training: t, Task: task}}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ManualTaskOptions{
			Description: input.Body.Description,
			Priority:    input.Body.Priority,
			ActorID:     actorID,
		}
		if input.Body.DueDate != nil {
			opts.DueDate = *input.Body.DueDate
		}
		if input.Body.ProjectID != nil {
			opts.ProjectID = *input.Body.ProjectID
		}
		if input.Body.TrainingID != nil {
			opts.TrainingID = *input.Body.TrainingID
		}
		if input.Body.ResponsibleID != nil {
			opts.ResponsibleID = *input.Body.ResponsibleID
		}
		task, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: task}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		ProjectID  string `query:"project_id"`
		TrainingID string `query:"training_id"`
		Status     string `query:"status" enum:"pending,in_progress,done,awaiting_reply"`
		Priority   string `query:"priority" enum:"normal,urgent"`
		Origin     string `query:"origin" enum:"manual,automatic"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			ProjectID:  input.ProjectID,
			TrainingID: input.TrainingID,
			Status:     input.Status,
			Priority:   input.Priority,
			Origin:     input.Origin,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		task, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: task}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Set task status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string               `path:"task_id"`
		Body   SetTaskStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		task, err := e.UpdateTaskStatus(ctx, input.TaskID, domain.TaskStatus(input.Body.Status), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: task}, nil
	})
}

func registerExpenses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-expense",
		Method:        http.MethodPost,
		Path:          "/expenses",
		Summary:       "Submit reimbursement request",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body SubmitExpenseRequest `json:"body"`
	}) (*struct {
		Body domain.Expense `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ExpenseSubmitOptions{
			TrainerID:   input.Body.TrainerID,
			AmountCents: input.Body.AmountCents,
			Description: input.Body.Description,
			ActorID:     actorID,
		}
		if input.Body.TrainingID != nil {
			opts.TrainingID = *input.Body.TrainingID
		}
		exp, err := e.SubmitExpense(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Expense `json:"body"`
		}{Body: exp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-expenses",
		Method:      http.MethodGet,
		Path:        "/expenses",
		Summary:     "List expenses",
	}, func(ctx context.Context, input *struct {
		TrainerID  string `query:"trainer_id"`
		TrainingID string `query:"training_id"`
		Status     string `query:"status" enum:"submitted,approved,rejected,reimbursed"`
	}) (*struct {
		Body []domain.Expense `json:"body"`
	}, error) {
		items, err := e.Repo.ListExpenses(ctx, repo.ExpenseFilters{
			TrainerID:  input.TrainerID,
			TrainingID: input.TrainingID,
			Status:     input.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Expense `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-expense",
		Method:      http.MethodGet,
		Path:        "/expenses/{expense_id}",
		Summary:     "Get expense",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ExpenseID string `path:"expense_id"`
	}) (*struct {
		Body domain.Expense `json:"body"`
	}, error) {
		exp, err := e.Repo.GetExpense(ctx, input.ExpenseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Expense `json:"body"`
		}{Body: exp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-expense",
		Method:      http.MethodPatch,
		Path:        "/expenses/{expense_id}/status",
		Summary:     "Review expense",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ExpenseID string               `path:"expense_id"`
		Body      ReviewExpenseRequest `json:"body"`
	}) (*struct {
		Body domain.Expense `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		exp, err := e.ReviewExpense(ctx, input.ExpenseID, domain.ExpenseStatus(input.Body.Status), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Expense `json:"body"`
		}{Body: exp}, nil
	})
}

func loadSnapshot(ctx context.Context, e engine.Engine) (overview.Snapshot, error) {
	var snap overview.Snapshot
	var err error
	if snap.Projects, err = e.Repo.ListProjects(ctx); err != nil {
		return snap, err
	}
	if snap.Tasks, err = e.Repo.ListTasks(ctx, repo.TaskFilters{}); err != nil {
		return snap, err
	}
	if snap.Trainings, err = e.Repo.ListTrainings(ctx, repo.TrainingFilters{}); err != nil {
		return snap, err
	}
	return snap, nil
}

func (c dashboardSettings) criticalLimit() int {
	if c.CriticalLimit > 0 {
		return c.CriticalLimit
	}
	return overview.DefaultCriticalLimit
}

func (c dashboardSettings) horizonDays() int {
	if c.HorizonDays > 0 {
		return c.HorizonDays
	}
	return overview.DefaultHorizonDays
}

type dashboardSettings struct {
	CriticalLimit int
	HorizonDays   int
}

func dashboardFromConfig(e engine.Engine) dashboardSettings {
	if e.Config == nil {
		return dashboardSettings{}
	}
	return dashboardSettings{
		CriticalLimit: e.Config.Dashboard.CriticalLimit,
		HorizonDays:   e.Config.Dashboard.HorizonDays,
	}
}

func registerDashboard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard-projects",
		Method:      http.MethodGet,
		Path:        "/dashboard/projects",
		Summary:     "Project views ordered by attention need",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectViewResponse `json:"body"`
	}, error) {
		snap, err := loadSnapshot(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		today := e.Now().UTC()
		views := overview.NeedingAttention(overview.ProjectViews(snap, today))
		return &struct {
			Body []ProjectViewResponse `json:"body"`
		}{Body: mapProjectViews(views)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dashboard-critical",
		Method:      http.MethodGet,
		Path:        "/dashboard/critical",
		Summary:     "Urgent and overdue tasks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CriticalTasksResponse `json:"body"`
	}, error) {
		tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{})
		if err != nil {
			return nil, handleError(err)
		}
		crit := overview.Critical(tasks, e.Now().UTC(), dashboardFromConfig(e).criticalLimit())
		return &struct {
			Body CriticalTasksResponse `json:"body"`
		}{Body: CriticalTasksResponse{Urgent: crit.Urgent, Overdue: crit.Overdue}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dashboard-week-ahead",
		Method:      http.MethodGet,
		Path:        "/dashboard/week-ahead",
		Summary:     "Trainings and milestones in the coming window",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ScheduleEntryResponse `json:"body"`
	}, error) {
		snap, err := loadSnapshot(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		entries := overview.WeekAhead(snap, e.Now().UTC(), dashboardFromConfig(e).horizonDays())
		return &struct {
			Body []ScheduleEntryResponse `json:"body"`
		}{Body: mapScheduleEntries(entries)}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "report-projects-by-year",
		Method:      http.MethodGet,
		Path:        "/reports/projects-by-year",
		Summary:     "Projects grouped by creation year",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []YearGroupResponse `json:"body"`
	}, error) {
		snap, err := loadSnapshot(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		views := overview.ProjectViews(snap, e.Now().UTC())
		return &struct {
			Body []YearGroupResponse `json:"body"`
		}{Body: mapYearGroups(report.GroupByYear(views))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-export",
		Method:      http.MethodGet,
		Path:        "/reports/export",
		Summary:     "Flat milestone rows for spreadsheet export",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []report.Row `json:"body"`
	}, error) {
		projects, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []report.Row `json:"body"`
		}{Body: report.ExportRows(projects)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest audit events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		raw := uuid.NewString() + uuid.NewString()
		key := domain.APIKey{
			ID:        uuid.NewString(),
			ActorID:   input.Body.ActorID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(raw),
			CreatedAt: e.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
			return nil, handleError(err)
		}
		res := apiKeyResponse(key)
		res.Key = raw
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListAPIKeys(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(items))
		for _, k := range items {
			res = append(res, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

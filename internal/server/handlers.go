package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"teamledger/internal/domain"
	"teamledger/internal/engine"
	"teamledger/internal/repo"
	"teamledger/internal/report"
)

// queryID turns an optional id query parameter into a repo filter value.
// Zero means the parameter was absent.
func queryID(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func registerLogin(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/login",
		Summary:     "Exchange credentials for a session token",
		Errors:      []int{http.StatusForbidden, http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		u, err := e.Authenticate(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		token, err := IssueToken(authCfg.JWTSecret, authCfg.TokenTTL, u.ID, u.Role, authCfg.now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{Token: token, User: u}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		id, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, id, engine.ProjectCreateOptions{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			StartDate:   input.Body.StartDate,
			TargetDate:  input.Body.TargetDate,
		})
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
		items, err := e.ListProjects(ctx)
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
		ProjectID int64 `path:"project_id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-project-member",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/members",
		Summary:       "Add project member",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID int64            `path:"project_id"`
		Body      AddMemberRequest `json:"body"`
	}) (*struct {
		Body domain.ProjectMember `json:"body"`
	}, error) {
		id, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.AddMember(ctx, id, input.ProjectID, input.Body.UserID, input.Body.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProjectMember `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-members",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/members",
		Summary:     "List project members",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID int64 `path:"project_id"`
	}) (*struct {
		Body []domain.ProjectMember `json:"body"`
	}, error) {
		items, err := e.ListMembers(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ProjectMember `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-milestone",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/milestones",
		Summary:       "Create milestone",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID int64                  `path:"project_id"`
		Body      CreateMilestoneRequest `json:"body"`
	}) (*struct {
		Body domain.Milestone `json:"body"`
	}, error) {
		id, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.CreateMilestone(ctx, id, input.ProjectID, engine.MilestoneCreateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			TargetDate:  input.Body.TargetDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Milestone `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-milestones",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/milestones",
		Summary:     "List milestones",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID int64 `path:"project_id"`
	}) (*struct {
		Body []domain.Milestone `json:"body"`
	}, error) {
		if _, err := e.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListMilestones(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Milestone `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-stats",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/stats",
		Summary:     "Project statistics",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID int64 `path:"project_id"`
	}) (*struct {
		Body engine.ProjectStats `json:"body"`
	}, error) {
		s, err := e.ProjectStats(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ProjectStats `json:"body"`
		}{Body: s}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		id, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, id, engine.TaskCreateOptions{
			ProjectID:   input.Body.ProjectID,
			MilestoneID: input.Body.MilestoneID,
			AssigneeID:  input.Body.AssigneeID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Priority:    input.Body.Priority,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		ProjectID  int64  `query:"project_id"`
		AssigneeID int64  `query:"assignee_id"`
		Status     string `query:"status" enum:",TODO,IN_PROGRESS,REVIEW,DONE"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		items, err := e.ListTasks(ctx, repo.TaskFilter{
			ProjectID:  queryID(input.ProjectID),
			AssigneeID: queryID(input.AssigneeID),
			Status:     input.Status,
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
		TaskID int64 `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TaskID int64             `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		id, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTask(ctx, id, input.TaskID, input.Body.Version, engine.TaskPatch{
			Title:         input.Body.Title,
			Description:   input.Body.Description,
			Priority:      input.Body.Priority,
			Status:        input.Body.Status,
			AssigneeID:    input.Body.AssigneeID,
			ClearAssignee: input.Body.ClearAssignee,
			MilestoneID:   input.Body.MilestoneID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/complete",
		Summary:     "Complete task",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TaskID int64               `path:"task_id"`
		Body   CompleteTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		id, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CompleteTask(ctx, id, input.TaskID, input.Body.VersionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerWorkLogs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-work-log",
		Method:        http.MethodPost,
		Path:          "/logs",
		Summary:       "Log work against a task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkLogRequest `json:"body"`
	}) (*struct {
		Body domain.WorkLog `json:"body"`
	}, error) {
		id, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.CreateWorkLog(ctx, id, engine.WorkLogCreateOptions{
			TaskID:        input.Body.TaskID,
			Content:       input.Body.Content,
			Blockers:      input.Body.Blockers,
			DecisionsMade: input.Body.DecisionsMade,
			HoursSpent:    input.Body.HoursSpent,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkLog `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-work-logs",
		Method:      http.MethodGet,
		Path:        "/logs",
		Summary:     "List work logs",
	}, func(ctx context.Context, input *struct {
		TaskID    int64 `query:"task_id"`
		UserID    int64 `query:"user_id"`
		ProjectID int64 `query:"project_id"`
	}) (*struct {
		Body []domain.WorkLog `json:"body"`
	}, error) {
		items, err := e.ListWorkLogs(ctx, repo.WorkLogFilter{
			TaskID:    queryID(input.TaskID),
			UserID:    queryID(input.UserID),
			ProjectID: queryID(input.ProjectID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkLog `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work-log",
		Method:      http.MethodGet,
		Path:        "/logs/{log_id}",
		Summary:     "Get work log",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		LogID int64 `path:"log_id"`
	}) (*struct {
		Body domain.WorkLog `json:"body"`
	}, error) {
		w, err := e.GetWorkLog(ctx, input.LogID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkLog `json:"body"`
		}{Body: w}, nil
	})
}

func registerDecisions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-decision",
		Method:        http.MethodPost,
		Path:          "/decisions",
		Summary:       "Record a decision",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateDecisionRequest `json:"body"`
	}) (*struct {
		Body domain.Decision `json:"body"`
	}, error) {
		id, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.CreateDecision(ctx, id, engine.DecisionCreateOptions{
			ProjectID:   input.Body.ProjectID,
			TaskID:      input.Body.TaskID,
			Title:       input.Body.Title,
			Explanation: input.Body.Explanation,
			Reasoning:   input.Body.Reasoning,
			ImpactLevel: input.Body.ImpactLevel,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Decision `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-decisions",
		Method:      http.MethodGet,
		Path:        "/decisions",
		Summary:     "List decisions",
	}, func(ctx context.Context, input *struct {
		ProjectID int64 `query:"project_id"`
		AuthorID  int64 `query:"author_id"`
	}) (*struct {
		Body []domain.Decision `json:"body"`
	}, error) {
		items, err := e.ListDecisions(ctx, repo.DecisionFilter{
			ProjectID: queryID(input.ProjectID),
			AuthorID:  queryID(input.AuthorID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Decision `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-decision",
		Method:      http.MethodGet,
		Path:        "/decisions/{decision_id}",
		Summary:     "Get decision",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DecisionID int64 `path:"decision_id"`
	}) (*struct {
		Body domain.Decision `json:"body"`
	}, error) {
		d, err := e.GetDecision(ctx, input.DecisionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Decision `json:"body"`
		}{Body: d}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine, synth *report.Synthesizer) {
	// The interface value must be nil when the synthesizer is absent, not a
	// typed nil pointer.
	var handover engine.HandoverSynthesizer
	if synth != nil {
		handover = synth
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		id, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.CreateUser(ctx, id, engine.UserCreateOptions{
			Name:     input.Body.Name,
			Email:    input.Body.Email,
			Password: input.Body.Password,
			Role:     input.Body.Role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		items, err := e.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-user-status",
		Method:      http.MethodPatch,
		Path:        "/users/{user_id}/status",
		Summary:     "Activate or suspend a user",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		UserID int64                `path:"user_id"`
		Body   SetUserStatusRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		id, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.SetUserStatus(ctx, id, handover, input.UserID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "user-profile",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/profile",
		Summary:     "User activity profile",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID int64 `path:"user_id"`
	}) (*struct {
		Body engine.UserProfile `json:"body"`
	}, error) {
		id, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UserProfile(ctx, id, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.UserProfile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "user-handover",
		Method:      http.MethodPost,
		Path:        "/users/{user_id}/handover",
		Summary:     "Synthesize a handover report",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		UserID int64 `path:"user_id"`
	}) (*struct {
		Body SummaryResponse `json:"body"`
	}, error) {
		id, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if synth == nil {
			return nil, newAPIError(http.StatusBadGateway, "synthesis_failed", "no report backend configured", nil)
		}
		s, err := e.UserHandover(ctx, id, handover, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SummaryResponse `json:"body"`
		}{Body: summaryResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "user-exit-initiate",
		Method:      http.MethodPost,
		Path:        "/users/{user_id}/exit/initiate",
		Summary:     "Preview a guarded user exit",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		UserID int64 `path:"user_id"`
	}) (*struct {
		Body engine.ExitPreview `json:"body"`
	}, error) {
		id, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ExitInitiate(ctx, id, handover, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ExitPreview `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "user-exit-confirm",
		Method:      http.MethodPost,
		Path:        "/users/{user_id}/exit/confirm",
		Summary:     "Confirm a guarded user exit",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		UserID int64              `path:"user_id"`
		Body   ExitConfirmRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		id, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.ExitConfirm(ctx, id, handover, input.UserID, input.Body.Reassignments)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})
}

func registerStats(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "stats-overview",
		Method:      http.MethodGet,
		Path:        "/stats/overview",
		Summary:     "Organization-wide statistics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.Overview `json:"body"`
	}, error) {
		o, err := e.StatsOverview(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Overview `json:"body"`
		}{Body: o}, nil
	})
}

func registerReports(api huma.API, e engine.Engine, synth *report.Synthesizer) {
	huma.Register(api, huma.Operation{
		OperationID: "project-summary",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/summary",
		Summary:     "Synthesize a project report",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		ProjectID int64          `path:"project_id"`
		Body      SummaryRequest `json:"body"`
	}) (*struct {
		Body SummaryResponse `json:"body"`
	}, error) {
		if _, authErr := identityFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if synth == nil {
			return nil, newAPIError(http.StatusBadGateway, "synthesis_failed", "no report backend configured", nil)
		}
		kind, err := report.KindFromRequest(input.Body.Type)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		s, err := synth.ProjectSummary(ctx, input.ProjectID, kind)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SummaryResponse `json:"body"`
		}{Body: summaryResponse(s)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Read the system event log",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		id, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.LatestEvents(ctx, id, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

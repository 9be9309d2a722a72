package server

import (
	"teamledger/internal/domain"
)

type LoginRequest struct {
	Email    string `json:"email" example:"ada@example.com"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type CreateProjectRequest struct {
	Name        string  `json:"name" minLength:"1"`
	Description string  `json:"description,omitempty"`
	StartDate   string  `json:"start_date,omitempty" format:"date-time"`
	TargetDate  *string `json:"target_date,omitempty" format:"date-time"`
}

type AddMemberRequest struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role,omitempty" example:"Contributor"`
}

type CreateMilestoneRequest struct {
	Title       string  `json:"title" minLength:"1"`
	Description string  `json:"description,omitempty"`
	TargetDate  *string `json:"target_date,omitempty" format:"date-time"`
}

type CreateTaskRequest struct {
	ProjectID   int64  `json:"project_id"`
	MilestoneID *int64 `json:"milestone_id,omitempty"`
	AssigneeID  *int64 `json:"assignee_id,omitempty"`
	Title       string `json:"title" minLength:"1"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty" enum:"Low,Medium,High"`
}

// UpdateTaskRequest carries the version token read earlier; the update is
// rejected when it no longer matches.
type UpdateTaskRequest struct {
	Version       int64   `json:"version"`
	Title         *string `json:"title,omitempty"`
	Description   *string `json:"description,omitempty"`
	Priority      *string `json:"priority,omitempty" enum:"Low,Medium,High"`
	Status        *string `json:"status,omitempty" enum:"TODO,IN_PROGRESS,REVIEW"`
	AssigneeID    *int64  `json:"assignee_id,omitempty"`
	ClearAssignee bool    `json:"clear_assignee,omitempty"`
	MilestoneID   *int64  `json:"milestone_id,omitempty"`
}

type CompleteTaskRequest struct {
	VersionID int64 `json:"version_id"`
}

type CreateWorkLogRequest struct {
	TaskID        int64   `json:"task_id"`
	Content       string  `json:"content" minLength:"1"`
	Blockers      string  `json:"blockers,omitempty"`
	DecisionsMade string  `json:"decisions_made,omitempty"`
	HoursSpent    float64 `json:"hours_spent" exclusiveMinimum:"0"`
}

type CreateDecisionRequest struct {
	ProjectID   *int64 `json:"project_id,omitempty"`
	TaskID      *int64 `json:"task_id,omitempty"`
	Title       string `json:"title" minLength:"1"`
	Explanation string `json:"explanation" minLength:"1"`
	Reasoning   string `json:"reasoning" minLength:"1"`
	ImpactLevel string `json:"impact_level,omitempty" enum:"Low,Medium,High"`
}

type CreateUserRequest struct {
	Name     string `json:"name" minLength:"1"`
	Email    string `json:"email" format:"email"`
	Password string `json:"password,omitempty"`
	Role     string `json:"role,omitempty" enum:"Admin,Member"`
}

type SetUserStatusRequest struct {
	Status string `json:"status" enum:"Active,Inactive"`
}

type ExitConfirmRequest struct {
	// Reassignments maps open task id to the new assignee's user id. Every
	// open task of the exiting user must appear.
	Reassignments map[int64]int64 `json:"reassignments"`
}

type SummaryRequest struct {
	Type string `json:"type" enum:"daily,weekly,contributor_impact"`
}

type SummaryResponse struct {
	Summary     string `json:"summary"`
	Type        string `json:"type" example:"Generated Summary"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	GeneratedAt string `json:"generated_at" format:"date-time"`
	ID          int64  `json:"id,omitempty"`
}

func summaryResponse(s domain.Summary) SummaryResponse {
	return SummaryResponse{
		Summary:     s.Content,
		Type:        "Generated Summary",
		Kind:        s.Kind,
		Status:      s.Status,
		GeneratedAt: s.GeneratedAt,
		ID:          s.ID,
	}
}

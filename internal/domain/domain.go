package domain

// Roles and statuses are stored as plain strings; the engine validates them
// against these constants.
const (
	RoleAdmin  = "Admin"
	RoleMember = "Member"

	UserActive   = "Active"
	UserInactive = "Inactive"

	ProjectActive    = "ACTIVE"
	ProjectCompleted = "COMPLETED"

	StatusTodo       = "TODO"
	StatusInProgress = "IN_PROGRESS"
	StatusReview     = "REVIEW"
	StatusDone       = "DONE"

	PriorityLow    = "Low"
	PriorityMedium = "Medium"
	PriorityHigh   = "High"
)

type User struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role" enum:"Admin,Member"`
	Status    string `json:"status" enum:"Active,Inactive"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"ACTIVE,COMPLETED"`
	StartDate   string  `json:"start_date" format:"date-time"`
	TargetDate  *string `json:"target_date,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type ProjectMember struct {
	ProjectID int64  `json:"project_id"`
	UserID    int64  `json:"user_id"`
	Role      string `json:"role"`
	JoinedAt  string `json:"joined_at" format:"date-time"`
}

type Milestone struct {
	ID          int64   `json:"id"`
	ProjectID   int64   `json:"project_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	TargetDate  *string `json:"target_date,omitempty" format:"date-time"`
	Status      string  `json:"status"`
}

// Task carries a version token: it starts at 0 and every successful mutation
// increments it by exactly one. Callers echo the version they last read; a
// stale version is rejected without applying the change.
type Task struct {
	ID          int64  `json:"id"`
	ProjectID   int64  `json:"project_id"`
	MilestoneID *int64 `json:"milestone_id,omitempty"`
	AssigneeID  *int64 `json:"assignee_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority" enum:"Low,Medium,High"`
	Status      string `json:"status" enum:"TODO,IN_PROGRESS,REVIEW,DONE"`
	Version     int64  `json:"version"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// WorkLog is append-only provenance: no update or delete path exists anywhere
// in the system.
type WorkLog struct {
	ID            int64   `json:"id"`
	TaskID        int64   `json:"task_id"`
	UserID        int64   `json:"user_id"`
	Content       string  `json:"content"`
	Blockers      string  `json:"blockers,omitempty"`
	DecisionsMade string  `json:"decisions_made,omitempty"`
	HoursSpent    float64 `json:"hours_spent"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

// Decision belongs to the immutable registry; corrections are new entries.
// ProjectID is nil for organization-wide decisions.
type Decision struct {
	ID          int64  `json:"id"`
	ProjectID   *int64 `json:"project_id,omitempty"`
	TaskID      *int64 `json:"task_id,omitempty"`
	AuthorID    int64  `json:"author_id"`
	Title       string `json:"title"`
	Explanation string `json:"explanation"`
	Reasoning   string `json:"reasoning"`
	ImpactLevel string `json:"impact_level" enum:"Low,Medium,High"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Summary kinds mirror the report types exposed by the API.
const (
	SummaryDaily             = "DAILY"
	SummaryWeekly            = "WEEKLY"
	SummaryContributorImpact = "CONTRIBUTOR_IMPACT"
	SummaryHandover          = "HANDOVER"

	SummarySuccess = "SUCCESS"
	SummaryFailed  = "FAILED"
)

type Summary struct {
	ID          int64  `json:"id"`
	ProjectID   *int64 `json:"project_id,omitempty"`
	UserID      *int64 `json:"user_id,omitempty"`
	Kind        string `json:"kind" enum:"DAILY,WEEKLY,CONTRIBUTOR_IMPACT,HANDOVER"`
	Content     string `json:"content"`
	Status      string `json:"status" enum:"SUCCESS,FAILED"`
	Model       string `json:"model,omitempty"`
	ContextHash string `json:"context_hash,omitempty"`
	ErrorLog    string `json:"error_log,omitempty"`
	GeneratedAt string `json:"generated_at" format:"date-time"`
}

type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	TriggeredBy *int64 `json:"triggered_by,omitempty"`
	ProjectID   *int64 `json:"project_id,omitempty"`
	Payload     string `json:"payload_json,omitempty"`
}

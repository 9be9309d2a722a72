package engine

import (
	"context"
	"time"

	"teamledger/internal/domain"
	"teamledger/internal/engine/auth"
	"teamledger/internal/repo"
)

// Overview is the organization-wide aggregation. All figures are recomputed
// from rows on every call; nothing here is stored.
type Overview struct {
	Totals         repo.Totals       `json:"totals"`
	TasksByStatus  repo.StatusCounts `json:"tasks_by_status"`
	DoneTasks      int               `json:"done_tasks"`
	CompletionPct  float64           `json:"completion_pct"`
	ActiveProjects int               `json:"active_projects"`
}

func (e Engine) StatsOverview(ctx context.Context) (Overview, error) {
	totals, err := e.Repo.OverviewTotals(ctx)
	if err != nil {
		return Overview{}, err
	}
	counts, err := e.Repo.TaskStatusCounts(ctx, nil)
	if err != nil {
		return Overview{}, err
	}
	o := Overview{
		Totals:        totals,
		TasksByStatus: counts,
		DoneTasks:     counts[domain.StatusDone],
		CompletionPct: completionPct(counts),
	}
	projects, err := e.Repo.ListProjects(ctx)
	if err != nil {
		return Overview{}, err
	}
	for _, p := range projects {
		if p.Status == domain.ProjectActive {
			o.ActiveProjects++
		}
	}
	return o, nil
}

// ProjectStats is the per-project aggregation slice.
type ProjectStats struct {
	Project        domain.Project        `json:"project"`
	TasksByStatus  repo.StatusCounts     `json:"tasks_by_status"`
	TotalTasks     int                   `json:"total_tasks"`
	DoneTasks      int                   `json:"done_tasks"`
	CompletionPct  float64               `json:"completion_pct"`
	HoursLogged    float64               `json:"hours_logged"`
	Members        int                   `json:"members"`
	MemberHours    []repo.MemberHours    `json:"member_hours"`
	MilestoneHours []repo.MilestoneHours `json:"milestone_hours"`
	DoneLast7Days  int                   `json:"done_last_7_days"`
	// VelocityPerWeek is completed tasks per week since the project started.
	VelocityPerWeek float64 `json:"velocity_per_week"`
}

func (e Engine) ProjectStats(ctx context.Context, projectID int64) (ProjectStats, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return ProjectStats{}, err
	}
	counts, err := e.Repo.TaskStatusCounts(ctx, &projectID)
	if err != nil {
		return ProjectStats{}, err
	}
	hours, err := e.Repo.ProjectHours(ctx, projectID)
	if err != nil {
		return ProjectStats{}, err
	}
	members, err := e.Repo.CountMembers(ctx, projectID)
	if err != nil {
		return ProjectStats{}, err
	}
	memberHours, err := e.Repo.ProjectMemberHours(ctx, projectID)
	if err != nil {
		return ProjectStats{}, err
	}
	milestoneHours, err := e.Repo.ProjectMilestoneHours(ctx, projectID)
	if err != nil {
		return ProjectStats{}, err
	}
	weekAgo := e.now().UTC().Add(-7 * 24 * time.Hour).Format(time.RFC3339)
	doneRecently, err := e.Repo.CountTasksDoneSince(ctx, projectID, weekAgo)
	if err != nil {
		return ProjectStats{}, err
	}

	s := ProjectStats{
		Project:        p,
		TasksByStatus:  counts,
		DoneTasks:      counts[domain.StatusDone],
		CompletionPct:  completionPct(counts),
		HoursLogged:    hours,
		Members:        members,
		MemberHours:    memberHours,
		MilestoneHours: milestoneHours,
		DoneLast7Days:  doneRecently,
	}
	for _, n := range counts {
		s.TotalTasks += n
	}
	if start, err := time.Parse(time.RFC3339, p.StartDate); err == nil {
		weeks := e.now().UTC().Sub(start).Hours() / (24 * 7)
		if weeks < 1 {
			weeks = 1
		}
		s.VelocityPerWeek = float64(s.DoneTasks) / weeks
	}
	return s, nil
}

// UserProfile is the per-user aggregation slice.
type UserProfile struct {
	User     domain.User       `json:"user"`
	Activity repo.UserActivity `json:"activity"`
}

func (e Engine) UserProfile(ctx context.Context, id auth.Identity, userID int64) (UserProfile, error) {
	if err := auth.RequireSelfOrAdmin(id, userID, "view this profile"); err != nil {
		return UserProfile{}, err
	}
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return UserProfile{}, err
	}
	a, err := e.Repo.UserActivity(ctx, userID)
	if err != nil {
		return UserProfile{}, err
	}
	return UserProfile{User: u, Activity: a}, nil
}

// completionPct is done/total scaled to 100, 0 when no tasks exist.
func completionPct(counts repo.StatusCounts) float64 {
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return 0
	}
	return float64(counts[domain.StatusDone]) / float64(total) * 100
}

package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"teamledger/internal/config"
	"teamledger/internal/db"
	"teamledger/internal/domain"
	"teamledger/internal/engine"
	"teamledger/internal/engine/auth"
	"teamledger/internal/migrate"
	"teamledger/internal/report"
	"teamledger/internal/repo"
)

type testEnv struct {
	Engine  engine.Engine
	Synth   *report.Synthesizer
	Ctx     context.Context
	Admin   auth.Identity
	Member  auth.Identity
	Project domain.Project
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	adminUser, err := eng.CreateInitialAdmin(ctx, engine.UserCreateOptions{
		Name: "Ada", Email: "ada@example.com", Password: "s3cret",
	})
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	admin := auth.Identity{UserID: adminUser.ID, Role: adminUser.Role, Status: adminUser.Status}

	memberUser, err := eng.CreateUser(ctx, admin, engine.UserCreateOptions{
		Name: "Max", Email: "max@example.com", Password: "s3cret",
	})
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	member := auth.Identity{UserID: memberUser.ID, Role: memberUser.Role, Status: memberUser.Status}

	project, err := eng.CreateProject(ctx, admin, engine.ProjectCreateOptions{Name: "Apollo"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	synth := report.New(conn, cfg.Reports, report.TemplateGenerator{})
	synth.Now = eng.Now

	return testEnv{Engine: eng, Synth: synth, Ctx: ctx, Admin: admin, Member: member, Project: project}
}

func mustCreateTask(t *testing.T, env testEnv, assignee *int64) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, env.Admin, engine.TaskCreateOptions{
		ProjectID:  env.Project.ID,
		Title:      "Do work",
		AssigneeID: assignee,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func mustLogWork(t *testing.T, env testEnv, id auth.Identity, taskID int64) domain.WorkLog {
	t.Helper()
	w, err := env.Engine.CreateWorkLog(env.Ctx, id, engine.WorkLogCreateOptions{
		TaskID: taskID, Content: "wired the thing", HoursSpent: 2,
	})
	if err != nil {
		t.Fatalf("log work: %v", err)
	}
	return w
}

func TestCompleteWithoutLogsFails(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, nil)
	if task.Version != 0 || task.Status != domain.StatusTodo {
		t.Fatalf("new task should be TODO v0, got %s v%d", task.Status, task.Version)
	}

	_, err := env.Engine.CompleteTask(env.Ctx, env.Admin, task.ID, task.Version)
	var pe engine.ProvenanceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected provenance error, got %v", err)
	}

	got, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusTodo || got.Version != 0 {
		t.Fatalf("failed completion must not touch the row: %s v%d", got.Status, got.Version)
	}
}

func TestCompleteAfterLogSucceeds(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, nil)
	mustLogWork(t, env, env.Admin, task.ID)

	done, err := env.Engine.CompleteTask(env.Ctx, env.Admin, task.ID, 0)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.StatusDone || done.Version != 1 {
		t.Fatalf("expected DONE v1, got %s v%d", done.Status, done.Version)
	}
}

func TestVersionConflictOnDoubleComplete(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, nil)
	mustLogWork(t, env, env.Admin, task.ID)

	if _, err := env.Engine.CompleteTask(env.Ctx, env.Admin, task.ID, 0); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	_, err := env.Engine.CompleteTask(env.Ctx, env.Admin, task.ID, 0)
	// The row is DONE now, so the second attempt loses before it ever reaches
	// the conditional update.
	if err == nil {
		t.Fatalf("second complete with the same version must fail")
	}
}

func TestStaleVersionKeepsFailingUntilReread(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, nil)

	title := "renamed"
	if _, err := env.Engine.UpdateTask(env.Ctx, env.Admin, task.ID, 0, engine.TaskPatch{Title: &title}); err != nil {
		t.Fatalf("first update: %v", err)
	}

	for i := 0; i < 3; i++ {
		_, err := env.Engine.UpdateTask(env.Ctx, env.Admin, task.ID, 0, engine.TaskPatch{Title: &title})
		var ce engine.ConflictError
		if !errors.As(err, &ce) {
			t.Fatalf("retry %d: expected conflict, got %v", i, err)
		}
		if ce.CurrentVersion != 1 {
			t.Fatalf("conflict must report current version 1, got %d", ce.CurrentVersion)
		}
	}

	got, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, env.Admin, task.ID, got.Version, engine.TaskPatch{Title: &title}); err != nil {
		t.Fatalf("update after re-read: %v", err)
	}
}

func TestUpdateThenCompleteWithOldVersionConflicts(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, nil)
	mustLogWork(t, env, env.Admin, task.ID)

	status := domain.StatusInProgress
	updated, err := env.Engine.UpdateTask(env.Ctx, env.Admin, task.ID, 0, engine.TaskPatch{Status: &status})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 1 {
		t.Fatalf("expected v1 after update, got v%d", updated.Version)
	}

	_, err = env.Engine.CompleteTask(env.Ctx, env.Admin, task.ID, 0)
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, _ := env.Engine.GetTask(env.Ctx, task.ID)
	if got.Status != domain.StatusInProgress || got.Version != 1 {
		t.Fatalf("losing complete must not change the row: %s v%d", got.Status, got.Version)
	}
}

func TestCompletionPercentage(t *testing.T) {
	env := newTestEnv(t)
	var tasks []domain.Task
	for i := 0; i < 4; i++ {
		tasks = append(tasks, mustCreateTask(t, env, nil))
	}
	mustLogWork(t, env, env.Admin, tasks[0].ID)
	if _, err := env.Engine.CompleteTask(env.Ctx, env.Admin, tasks[0].ID, 0); err != nil {
		t.Fatalf("complete: %v", err)
	}

	stats, err := env.Engine.ProjectStats(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalTasks != 4 || stats.DoneTasks != 1 {
		t.Fatalf("expected 4 tasks / 1 done, got %d/%d", stats.TotalTasks, stats.DoneTasks)
	}
	if stats.CompletionPct != 25 {
		t.Fatalf("expected 25%%, got %v", stats.CompletionPct)
	}
}

func TestUpdateMayNotSetDone(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, nil)
	status := domain.StatusDone
	_, err := env.Engine.UpdateTask(env.Ctx, env.Admin, task.ID, 0, engine.TaskPatch{Status: &status})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for status=DONE via update, got %v", err)
	}
}

func TestMemberCannotTouchOthersTask(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, &env.Admin.UserID)
	mustLogWork(t, env, env.Admin, task.ID)

	_, err := env.Engine.CompleteTask(env.Ctx, env.Member, task.ID, 0)
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	title := "hijack"
	_, err = env.Engine.UpdateTask(env.Ctx, env.Member, task.ID, 0, engine.TaskPatch{Title: &title})
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden on update, got %v", err)
	}
}

func TestMemberCompletesOwnTask(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, &env.Member.UserID)
	mustLogWork(t, env, env.Member, task.ID)

	done, err := env.Engine.CompleteTask(env.Ctx, env.Member, task.ID, 0)
	if err != nil {
		t.Fatalf("member completing own task: %v", err)
	}
	if done.Status != domain.StatusDone {
		t.Fatalf("expected DONE, got %s", done.Status)
	}
}

func TestWorkLogValidation(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, nil)

	_, err := env.Engine.CreateWorkLog(env.Ctx, env.Admin, engine.WorkLogCreateOptions{
		TaskID: task.ID, Content: "zero hours", HoursSpent: 0,
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for hours=0, got %v", err)
	}

	mustLogWork(t, env, env.Admin, task.ID)
	if _, err := env.Engine.CompleteTask(env.Ctx, env.Admin, task.ID, 0); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.CreateWorkLog(env.Ctx, env.Admin, engine.WorkLogCreateOptions{
		TaskID: task.ID, Content: "too late", HoursSpent: 1,
	})
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error on DONE task, got %v", err)
	}
}

func TestWorkLogDerivesDecision(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, nil)

	_, err := env.Engine.CreateWorkLog(env.Ctx, env.Admin, engine.WorkLogCreateOptions{
		TaskID:        task.ID,
		Content:       "prototyped both options",
		DecisionsMade: "going with the queue-based design",
		HoursSpent:    3,
	})
	if err != nil {
		t.Fatal(err)
	}

	decisions, err := env.Engine.ListDecisions(env.Ctx, repo.DecisionFilter{ProjectID: &env.Project.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(decisions) != 1 {
		t.Fatalf("expected one derived decision, got %d", len(decisions))
	}
	if decisions[0].Explanation != "going with the queue-based design" {
		t.Fatalf("unexpected decision explanation %q", decisions[0].Explanation)
	}
	if decisions[0].TaskID == nil || *decisions[0].TaskID != task.ID {
		t.Fatalf("derived decision must reference the task")
	}
}

func TestSuspensionProducesHandoverWithoutMutation(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, &env.Member.UserID)
	mustLogWork(t, env, env.Member, task.ID)
	if _, err := env.Engine.CreateDecision(env.Ctx, env.Member, engine.DecisionCreateOptions{
		ProjectID:   &env.Project.ID,
		Title:       "Use SQLite",
		Explanation: "Single-file storage fits the workspace model",
		Reasoning:   "No separate server to run",
	}); err != nil {
		t.Fatal(err)
	}

	before, _ := env.Engine.GetTask(env.Ctx, task.ID)

	u, err := env.Engine.SetUserStatus(env.Ctx, env.Admin, env.Synth, env.Member.UserID, domain.UserInactive)
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if u.Status != domain.UserInactive {
		t.Fatalf("expected Inactive, got %s", u.Status)
	}

	summaries, err := env.Engine.Repo.ListSummaries(env.Ctx, repo.SummaryFilter{
		UserID: &env.Member.UserID, Kind: domain.SummaryHandover,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected one handover summary, got %d", len(summaries))
	}

	after, _ := env.Engine.GetTask(env.Ctx, task.ID)
	if after.Version != before.Version || after.Status != before.Status {
		t.Fatalf("handover must not mutate tasks: %s v%d -> %s v%d",
			before.Status, before.Version, after.Status, after.Version)
	}
	logs, _ := env.Engine.ListWorkLogs(env.Ctx, repo.WorkLogFilter{UserID: &env.Member.UserID})
	if len(logs) != 1 {
		t.Fatalf("handover must not touch work logs, got %d", len(logs))
	}
}

func TestHandoverRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, &env.Admin.UserID)
	mustLogWork(t, env, env.Admin, task.ID)

	_, err := env.Engine.UserHandover(env.Ctx, env.Member, env.Synth, env.Admin.UserID)
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for member, got %v", err)
	}

	s, err := env.Engine.UserHandover(env.Ctx, env.Admin, env.Synth, env.Admin.UserID)
	if err != nil {
		t.Fatalf("admin handover: %v", err)
	}
	if s.Kind != domain.SummaryHandover {
		t.Fatalf("expected handover kind, got %q", s.Kind)
	}
}

func TestExitWorkflow(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, &env.Member.UserID)
	mustLogWork(t, env, env.Member, task.ID)

	preview, err := env.Engine.ExitInitiate(env.Ctx, env.Admin, env.Synth, env.Member.UserID)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if len(preview.OpenTasks) != 1 {
		t.Fatalf("expected one open task in preview, got %d", len(preview.OpenTasks))
	}

	// Confirming without covering the open task must fail before any write.
	_, err = env.Engine.ExitConfirm(env.Ctx, env.Admin, env.Synth, env.Member.UserID, nil)
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	u, _ := env.Engine.GetUser(env.Ctx, env.Member.UserID)
	if u.Status != domain.UserActive {
		t.Fatalf("failed confirm must leave the user active")
	}

	u, err = env.Engine.ExitConfirm(env.Ctx, env.Admin, env.Synth, env.Member.UserID, map[int64]int64{
		task.ID: env.Admin.UserID,
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if u.Status != domain.UserInactive {
		t.Fatalf("expected Inactive after confirm")
	}
	got, _ := env.Engine.GetTask(env.Ctx, task.ID)
	if got.AssigneeID == nil || *got.AssigneeID != env.Admin.UserID {
		t.Fatalf("task must be reassigned on exit")
	}
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.Authenticate(env.Ctx, "ada@example.com", "s3cret")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if u.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role")
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "ada@example.com", "wrong"); err == nil {
		t.Fatalf("expected bad password to fail")
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "ghost@example.com", "s3cret"); err == nil {
		t.Fatalf("expected unknown email to fail")
	}
}

func TestMemberCannotCreateProject(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProject(env.Ctx, env.Member, engine.ProjectCreateOptions{Name: "Rogue"})
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, nil)
	mustLogWork(t, env, env.Admin, task.ID)
	if _, err := env.Engine.CompleteTask(env.Ctx, env.Admin, task.ID, 0); err != nil {
		t.Fatal(err)
	}

	events, err := env.Engine.LatestEvents(env.Ctx, env.Admin, 50)
	if err != nil {
		t.Fatal(err)
	}
	types := map[string]bool{}
	for _, e := range events {
		types[e.Type] = true
	}
	for _, want := range []string{"PROJECT_CREATED", "TASK_CREATED", "WORK_LOGGED", "STATUS_CHANGE"} {
		if !types[want] {
			t.Fatalf("missing event type %s in %v", want, types)
		}
	}

	if _, err := env.Engine.LatestEvents(env.Ctx, env.Member, 50); err == nil {
		t.Fatalf("member must not read the system log")
	}
}

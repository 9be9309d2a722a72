package report_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

// countingGenerator records every call so cache behavior is observable.
type countingGenerator struct {
	calls   int
	lastCtx string
	err     error
}

func (g *countingGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	g.calls++
	g.lastCtx = user
	if g.err != nil {
		return "", g.err
	}
	return fmt.Sprintf("Generated Summary\n\nrun %d", g.calls), nil
}

type synthEnv struct {
	Engine  engine.Engine
	Synth   *report.Synthesizer
	Gen     *countingGenerator
	Ctx     context.Context
	Admin   auth.Identity
	Project domain.Project
}

func newSynthEnv(t *testing.T) synthEnv {
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

	project, err := eng.CreateProject(ctx, admin, engine.ProjectCreateOptions{Name: "Apollo"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	gen := &countingGenerator{}
	synth := report.New(conn, cfg.Reports, gen)
	synth.Now = eng.Now

	return synthEnv{Engine: eng, Synth: synth, Gen: gen, Ctx: ctx, Admin: admin, Project: project}
}

func (env synthEnv) logWork(t *testing.T, content, blockers string) {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, env.Admin, engine.TaskCreateOptions{
		ProjectID: env.Project.ID,
		Title:     "Task for " + content,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := env.Engine.CreateWorkLog(env.Ctx, env.Admin, engine.WorkLogCreateOptions{
		TaskID: task.ID, Content: content, Blockers: blockers, HoursSpent: 1,
	}); err != nil {
		t.Fatalf("log work: %v", err)
	}
}

func TestProjectSummaryEmptyActivity(t *testing.T) {
	env := newSynthEnv(t)
	s, err := env.Synth.ProjectSummary(env.Ctx, env.Project.ID, domain.SummaryWeekly)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.Content != "No significant activity recorded." {
		t.Fatalf("unexpected content %q", s.Content)
	}
	if s.ID != 0 {
		t.Fatalf("empty-activity summary must not be persisted")
	}
	if env.Gen.calls != 0 {
		t.Fatalf("backend must not be called for empty activity")
	}
}

func TestProjectSummaryCachesUnchangedContext(t *testing.T) {
	env := newSynthEnv(t)
	env.logWork(t, "implemented the parser", "")

	first, err := env.Synth.ProjectSummary(env.Ctx, env.Project.ID, domain.SummaryWeekly)
	if err != nil {
		t.Fatalf("first summary: %v", err)
	}
	if first.ID == 0 {
		t.Fatalf("summary must be persisted")
	}

	second, err := env.Synth.ProjectSummary(env.Ctx, env.Project.ID, domain.SummaryWeekly)
	if err != nil {
		t.Fatalf("second summary: %v", err)
	}
	if env.Gen.calls != 1 {
		t.Fatalf("unchanged context must hit the cache, backend called %d times", env.Gen.calls)
	}
	if second.ID != first.ID || second.Content != first.Content {
		t.Fatalf("cache must return the stored row")
	}

	// New activity invalidates the hash.
	env.logWork(t, "added retry logic", "")
	third, err := env.Synth.ProjectSummary(env.Ctx, env.Project.ID, domain.SummaryWeekly)
	if err != nil {
		t.Fatalf("third summary: %v", err)
	}
	if env.Gen.calls != 2 {
		t.Fatalf("changed context must regenerate, backend called %d times", env.Gen.calls)
	}
	if third.ID == first.ID {
		t.Fatalf("regenerated summary must be a new row")
	}
}

func TestSynthesisFailurePersistsNothing(t *testing.T) {
	env := newSynthEnv(t)
	env.logWork(t, "implemented the parser", "")
	env.Gen.err = errors.New("backend unavailable")

	_, err := env.Synth.ProjectSummary(env.Ctx, env.Project.ID, domain.SummaryWeekly)
	var se report.SynthesisError
	if !errors.As(err, &se) {
		t.Fatalf("expected synthesis error, got %v", err)
	}
	if se.Kind != domain.SummaryWeekly {
		t.Fatalf("error must carry the kind, got %q", se.Kind)
	}

	summaries, err := env.Synth.Repo.ListSummaries(env.Ctx, repo.SummaryFilter{ProjectID: &env.Project.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 0 {
		t.Fatalf("failed synthesis must persist nothing, found %d rows", len(summaries))
	}
}

func TestRiskScanFlagsBlockerPileup(t *testing.T) {
	env := newSynthEnv(t)
	for i := 0; i < 4; i++ {
		env.logWork(t, fmt.Sprintf("attempt %d", i), "blocked on flaky CI")
	}

	if _, err := env.Synth.ProjectSummary(env.Ctx, env.Project.ID, domain.SummaryWeekly); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !strings.Contains(env.Gen.lastCtx, "CRITICAL: 4 blockers detected") {
		t.Fatalf("context must carry the risk flag, got:\n%s", env.Gen.lastCtx)
	}
}

func TestRiskScanQuietBelowThreshold(t *testing.T) {
	env := newSynthEnv(t)
	env.logWork(t, "smooth sailing", "")

	if _, err := env.Synth.ProjectSummary(env.Ctx, env.Project.ID, domain.SummaryWeekly); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !strings.Contains(env.Gen.lastCtx, "Velocity stable.") {
		t.Fatalf("context must report stable velocity, got:\n%s", env.Gen.lastCtx)
	}
}

func TestHandoverContextCoversPendingWork(t *testing.T) {
	env := newSynthEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, env.Admin, engine.TaskCreateOptions{
		ProjectID:   env.Project.ID,
		Title:       "Finish the migration",
		Description: "Half the tables remain",
		AssigneeID:  &env.Admin.UserID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateWorkLog(env.Ctx, env.Admin, engine.WorkLogCreateOptions{
		TaskID: task.ID, Content: "migrated users and projects", HoursSpent: 3,
	}); err != nil {
		t.Fatal(err)
	}

	s, err := env.Synth.Handover(env.Ctx, env.Admin.UserID)
	if err != nil {
		t.Fatalf("handover: %v", err)
	}
	if s.Kind != domain.SummaryHandover || s.ID == 0 {
		t.Fatalf("expected a persisted handover summary, got kind %q id %d", s.Kind, s.ID)
	}
	for _, want := range []string{"Finish the migration", "migrated users and projects"} {
		if !strings.Contains(env.Gen.lastCtx, want) {
			t.Fatalf("handover context missing %q:\n%s", want, env.Gen.lastCtx)
		}
	}
}

func TestKindFromRequest(t *testing.T) {
	for in, want := range map[string]string{
		"daily":              domain.SummaryDaily,
		"weekly":             domain.SummaryWeekly,
		"contributor_impact": domain.SummaryContributorImpact,
		"handover":           domain.SummaryHandover,
	} {
		got, err := report.KindFromRequest(in)
		if err != nil || got != want {
			t.Fatalf("KindFromRequest(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := report.KindFromRequest("hourly"); err == nil {
		t.Fatalf("unknown type must error")
	}
}

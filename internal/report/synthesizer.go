package report

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"teamledger/internal/config"
	"teamledger/internal/domain"
	"teamledger/internal/events"
	"teamledger/internal/repo"
)

// Synthesizer turns stored activity into report text. It only ever reads
// tasks, logs and decisions; the single thing it writes is the Summary row
// (plus its audit event), committed atomically.
type Synthesizer struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Gen    Generator
	Config config.ReportsConfig
	Now    func() time.Time
}

func New(db *sql.DB, cfg config.ReportsConfig, gen Generator) *Synthesizer {
	return &Synthesizer{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Gen:    gen,
		Config: cfg,
		Now:    time.Now,
	}
}

func (s *Synthesizer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// KindFromRequest maps the API's report type to a stored summary kind.
func KindFromRequest(reportType string) (string, error) {
	switch strings.ToLower(reportType) {
	case "daily":
		return domain.SummaryDaily, nil
	case "weekly":
		return domain.SummaryWeekly, nil
	case "contributor_impact":
		return domain.SummaryContributorImpact, nil
	case "handover":
		return domain.SummaryHandover, nil
	}
	return "", fmt.Errorf("unknown report type %q", reportType)
}

func (s *Synthesizer) window(kind string) time.Duration {
	switch kind {
	case domain.SummaryDaily:
		h := s.Config.DailyWindowHours
		if h <= 0 {
			h = 24
		}
		return time.Duration(h) * time.Hour
	case domain.SummaryWeekly:
		h := s.Config.WeeklyWindowHours
		if h <= 0 {
			h = 7 * 24
		}
		return time.Duration(h) * time.Hour
	}
	// Impact and handover reports read the full history.
	return 0
}

func (s *Synthesizer) prompt(kind string) string {
	switch kind {
	case domain.SummaryDaily:
		return promptDaily
	case domain.SummaryWeekly:
		return promptWeekly
	case domain.SummaryContributorImpact:
		return promptContributorImpact
	case domain.SummaryHandover:
		return promptHandover
	}
	return baseRules
}

func contextHash(context string) string {
	sum := sha256.Sum256([]byte(context))
	return hex.EncodeToString(sum[:])
}

// riskLine applies the rule-based scan: more blocker-bearing logs inside the
// weekly window than the configured threshold flags the project.
func (s *Synthesizer) riskLine(ctx context.Context, projectID int64) (string, error) {
	threshold := s.Config.RiskBlockerThreshold
	if threshold <= 0 {
		threshold = 3
	}
	since := s.now().UTC().Add(-7 * 24 * time.Hour).Format(time.RFC3339)
	n, err := s.Repo.CountBlockerLogs(ctx, projectID, since)
	if err != nil {
		return "", err
	}
	if n > threshold {
		return fmt.Sprintf("CRITICAL: %d blockers detected in the last 7 days. Logs indicate high risk.", n), nil
	}
	return "Velocity stable. No significant blockers detected.", nil
}

// ProjectSummary synthesizes a daily, weekly or contributor-impact report for
// a project. An unchanged context returns the cached summary instead of
// calling the backend again.
func (s *Synthesizer) ProjectSummary(ctx context.Context, projectID int64, kind string) (domain.Summary, error) {
	p, err := s.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Summary{}, err
	}

	var since string
	if w := s.window(kind); w > 0 {
		since = s.now().UTC().Add(-w).Format(time.RFC3339)
	}
	logs, err := s.Repo.ListWorkLogs(ctx, repo.WorkLogFilter{ProjectID: &projectID, Since: since})
	if err != nil {
		return domain.Summary{}, err
	}
	decisions, err := s.Repo.ListDecisions(ctx, repo.DecisionFilter{ProjectID: &projectID, Since: since})
	if err != nil {
		return domain.Summary{}, err
	}
	if len(logs) == 0 && len(decisions) == 0 {
		return domain.Summary{
			ProjectID:   &projectID,
			Kind:        kind,
			Content:     "No significant activity recorded.",
			Status:      domain.SummarySuccess,
			GeneratedAt: s.now().UTC().Format(time.RFC3339),
		}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", p.Name)
	b.WriteString("Recent Logs:\n")
	for _, l := range logs {
		fmt.Fprintf(&b, "- %s (%.1fh)\n", l.Content, l.HoursSpent)
	}
	b.WriteString("Recent Decisions:\n")
	for _, d := range decisions {
		fmt.Fprintf(&b, "- %s: %s\n", d.Title, d.Reasoning)
	}
	risk, err := s.riskLine(ctx, projectID)
	if err != nil {
		return domain.Summary{}, err
	}
	fmt.Fprintf(&b, "Internal Risk Detection: %s\n", risk)
	contextBlock := b.String()
	hash := contextHash(contextBlock)

	if cached, err := s.Repo.FindCachedSummary(ctx, &projectID, nil, kind, hash); err == nil {
		return cached, nil
	} else if err != repo.ErrNotFound {
		return domain.Summary{}, err
	}

	content, err := s.Gen.Generate(ctx, s.prompt(kind), contextBlock)
	if err != nil {
		return domain.Summary{}, SynthesisError{Kind: kind, Err: err}
	}
	return s.persist(ctx, domain.Summary{
		ProjectID:   &projectID,
		Kind:        kind,
		Content:     content,
		Status:      domain.SummarySuccess,
		Model:       s.Config.Model,
		ContextHash: hash,
		GeneratedAt: s.now().UTC().Format(time.RFC3339),
	})
}

// Handover synthesizes a full-history handover report for a user. Open tasks
// are part of the context so the next owner sees what is still pending.
func (s *Synthesizer) Handover(ctx context.Context, userID int64) (domain.Summary, error) {
	u, err := s.Repo.GetUser(ctx, userID)
	if err != nil {
		return domain.Summary{}, err
	}
	open, err := s.Repo.ListOpenTasksByAssignee(ctx, userID)
	if err != nil {
		return domain.Summary{}, err
	}
	logs, err := s.Repo.ListWorkLogs(ctx, repo.WorkLogFilter{UserID: &userID})
	if err != nil {
		return domain.Summary{}, err
	}
	decisions, err := s.Repo.ListDecisions(ctx, repo.DecisionFilter{AuthorID: &userID})
	if err != nil {
		return domain.Summary{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Member: %s\n", u.Name)
	b.WriteString("Recent Activity:\n")
	for _, l := range logs {
		fmt.Fprintf(&b, "- %s\n", l.Content)
	}
	b.WriteString("Decisions Made:\n")
	for _, d := range decisions {
		fmt.Fprintf(&b, "- %s: %s\n", d.Title, d.Explanation)
	}
	b.WriteString("Pending Tasks:\n")
	for _, t := range open {
		fmt.Fprintf(&b, "- %s: %s\n", t.Title, t.Description)
	}
	contextBlock := b.String()
	hash := contextHash(contextBlock)

	if cached, err := s.Repo.FindCachedSummary(ctx, nil, &userID, domain.SummaryHandover, hash); err == nil {
		return cached, nil
	} else if err != repo.ErrNotFound {
		return domain.Summary{}, err
	}

	content, err := s.Gen.Generate(ctx, promptHandover, contextBlock)
	if err != nil {
		return domain.Summary{}, SynthesisError{Kind: domain.SummaryHandover, Err: err}
	}
	return s.persist(ctx, domain.Summary{
		UserID:      &userID,
		Kind:        domain.SummaryHandover,
		Content:     content,
		Status:      domain.SummarySuccess,
		Model:       s.Config.Model,
		ContextHash: hash,
		GeneratedAt: s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Synthesizer) persist(ctx context.Context, summary domain.Summary) (domain.Summary, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Summary{}, err
	}
	defer tx.Rollback()

	summary.ID, err = s.Repo.InsertSummary(ctx, tx, summary)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("insert summary: %w", err)
	}
	if err := s.Events.Append(ctx, tx, events.TypeAIGeneration,
		fmt.Sprintf("%s report generated", summary.Kind), nil, summary.ProjectID,
		events.Payload{"summary_id": summary.ID, "run_id": uuid.NewString(), "hash": summary.ContextHash}); err != nil {
		return domain.Summary{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Summary{}, err
	}
	return summary, nil
}

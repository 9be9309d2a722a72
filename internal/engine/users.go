package engine

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"teamledger/internal/domain"
	"teamledger/internal/engine/auth"
	"teamledger/internal/events"
	"teamledger/internal/repo"
)

// HandoverSynthesizer produces a handover summary covering a user's full
// history. The report package provides the real implementation; tests plug in
// stubs.
type HandoverSynthesizer interface {
	Handover(ctx context.Context, userID int64) (domain.Summary, error)
}

// UserCreateOptions are parameters for creating a user.
type UserCreateOptions struct {
	Name     string
	Email    string
	Password string
	Role     string
}

func (e Engine) CreateUser(ctx context.Context, id auth.Identity, opts UserCreateOptions) (domain.User, error) {
	if err := auth.RequireAdmin(id, "create users"); err != nil {
		return domain.User{}, err
	}
	return e.createUser(ctx, opts)
}

// CreateInitialAdmin bootstraps the first account without an authenticated
// caller. It refuses once any user exists.
func (e Engine) CreateInitialAdmin(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	existing, err := e.Repo.ListUsers(ctx)
	if err != nil {
		return domain.User{}, err
	}
	if len(existing) > 0 {
		return domain.User{}, validationf("users already exist; use an admin account")
	}
	opts.Role = domain.RoleAdmin
	return e.createUser(ctx, opts)
}

func (e Engine) createUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	if opts.Name == "" || opts.Email == "" {
		return domain.User{}, validationf("name and email are required")
	}
	if !strings.Contains(opts.Email, "@") {
		return domain.User{}, validationf("email is malformed")
	}
	if opts.Role == "" {
		opts.Role = domain.RoleMember
	}
	if opts.Role != domain.RoleAdmin && opts.Role != domain.RoleMember {
		return domain.User{}, validationf("role must be Admin or Member")
	}
	if _, err := e.Repo.GetUserByEmail(ctx, opts.Email); err == nil {
		return domain.User{}, validationf("email %s already registered", opts.Email)
	}
	var hash string
	if opts.Password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
		if err != nil {
			return domain.User{}, fmt.Errorf("hash password: %w", err)
		}
		hash = string(h)
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	u := domain.User{
		Name:      opts.Name,
		Email:     opts.Email,
		Role:      opts.Role,
		Status:    domain.UserActive,
		CreatedAt: e.nowRFC3339(),
	}
	u.ID, err = e.Repo.InsertUser(ctx, tx, u, hash)
	if err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// Authenticate checks email+password against the stored bcrypt hash and
// returns the user on success.
func (e Engine) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	u, hash, err := e.Repo.GetCredentials(ctx, email)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.User{}, auth.ForbiddenError{Action: "authenticate"}
		}
		return domain.User{}, err
	}
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return domain.User{}, auth.ForbiddenError{Action: "authenticate"}
	}
	if u.Status != domain.UserActive {
		return domain.User{}, auth.ForbiddenError{Action: "authenticate"}
	}
	return u, nil
}

// Identify resolves a raw user id into the identity the engine gates on.
func (e Engine) Identify(ctx context.Context, userID int64) (auth.Identity, error) {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return auth.Identity{}, err
	}
	return auth.Identity{UserID: u.ID, Role: u.Role, Status: u.Status}, nil
}

func (e Engine) GetUser(ctx context.Context, userID int64) (domain.User, error) {
	return e.Repo.GetUser(ctx, userID)
}

func (e Engine) ListUsers(ctx context.Context) ([]domain.User, error) {
	return e.Repo.ListUsers(ctx)
}

// SetUserStatus flips a user Active or Inactive. Suspension synthesizes a
// handover over the user's history when a synthesizer is wired; the
// suspension itself never mutates tasks, logs or decisions.
func (e Engine) SetUserStatus(ctx context.Context, id auth.Identity, synth HandoverSynthesizer, userID int64, status string) (domain.User, error) {
	if err := auth.RequireAdmin(id, "change user status"); err != nil {
		return domain.User{}, err
	}
	if status != domain.UserActive && status != domain.UserInactive {
		return domain.User{}, validationf("status must be Active or Inactive")
	}
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if u.Status == status {
		return u, nil
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateUserStatus(ctx, tx, userID, status); err != nil {
		return domain.User{}, err
	}
	if status == domain.UserInactive {
		if err := e.Events.Append(ctx, tx, events.TypeUserExit,
			fmt.Sprintf("user %q suspended", u.Name), &id.UserID, nil,
			events.Payload{"user_id": userID}); err != nil {
			return domain.User{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	u.Status = status

	if status == domain.UserInactive && synth != nil {
		if _, err := synth.Handover(ctx, userID); err != nil {
			// The suspension stands; the handover can be regenerated later.
			return u, nil
		}
	}
	return u, nil
}

// UserHandover synthesizes a handover report over the user's full history on
// demand, outside the suspension path.
func (e Engine) UserHandover(ctx context.Context, id auth.Identity, synth HandoverSynthesizer, userID int64) (domain.Summary, error) {
	if err := auth.RequireAdmin(id, "synthesize a handover"); err != nil {
		return domain.Summary{}, err
	}
	if synth == nil {
		return domain.Summary{}, validationf("no report backend configured")
	}
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return domain.Summary{}, err
	}
	return synth.Handover(ctx, userID)
}

// ExitPreview is the read-only first half of the guarded exit workflow.
type ExitPreview struct {
	User      domain.User    `json:"user"`
	OpenTasks []domain.Task  `json:"open_tasks"`
	Handover  domain.Summary `json:"handover"`
}

// ExitInitiate previews what confirming an exit would do: the tasks needing
// reassignment and a handover draft. Nothing changes yet.
func (e Engine) ExitInitiate(ctx context.Context, id auth.Identity, synth HandoverSynthesizer, userID int64) (ExitPreview, error) {
	if err := auth.RequireAdmin(id, "initiate user exit"); err != nil {
		return ExitPreview{}, err
	}
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return ExitPreview{}, err
	}
	if u.Status != domain.UserActive {
		return ExitPreview{}, validationf("user %d is already inactive", userID)
	}
	open, err := e.Repo.ListOpenTasksByAssignee(ctx, userID)
	if err != nil {
		return ExitPreview{}, err
	}
	preview := ExitPreview{User: u, OpenTasks: open}
	if synth != nil {
		s, err := synth.Handover(ctx, userID)
		if err != nil {
			return ExitPreview{}, err
		}
		preview.Handover = s
	}
	return preview, nil
}

// ExitConfirm applies the exit: every open task must carry a reassignment to
// an active user, the reassignments are applied, and the user goes Inactive.
// Reassignment validation failures abort before any write.
func (e Engine) ExitConfirm(ctx context.Context, id auth.Identity, synth HandoverSynthesizer, userID int64, reassignments map[int64]int64) (domain.User, error) {
	if err := auth.RequireAdmin(id, "confirm user exit"); err != nil {
		return domain.User{}, err
	}
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if u.Status != domain.UserActive {
		return domain.User{}, validationf("user %d is already inactive", userID)
	}
	open, err := e.Repo.ListOpenTasksByAssignee(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	for _, t := range open {
		newAssignee, ok := reassignments[t.ID]
		if !ok {
			return domain.User{}, validationf("task %d has no reassignment", t.ID)
		}
		if newAssignee == userID {
			return domain.User{}, validationf("task %d cannot be reassigned to the exiting user", t.ID)
		}
		target, err := e.Repo.GetUser(ctx, newAssignee)
		if err != nil {
			return domain.User{}, validationf("task %d reassignment target %d not found", t.ID, newAssignee)
		}
		if target.Status != domain.UserActive {
			return domain.User{}, validationf("task %d reassignment target %d is not active", t.ID, newAssignee)
		}
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	for _, t := range open {
		newAssignee := reassignments[t.ID]
		t.AssigneeID = &newAssignee
		t.UpdatedAt = now
		ok, err := e.Repo.UpdateTaskVersioned(ctx, tx, t, t.Version)
		if err != nil {
			return domain.User{}, fmt.Errorf("reassign task %d: %w", t.ID, err)
		}
		if !ok {
			return domain.User{}, ConflictError{TaskID: t.ID, ExpectedVersion: t.Version, CurrentVersion: t.Version}
		}
		if err := e.Events.Append(ctx, tx, events.TypeTaskReassigned,
			fmt.Sprintf("task %d reassigned on exit of user %d", t.ID, userID),
			&id.UserID, &t.ProjectID, events.Payload{"task_id": t.ID, "to": newAssignee}); err != nil {
			return domain.User{}, err
		}
	}
	if err := e.Repo.UpdateUserStatus(ctx, tx, userID, domain.UserInactive); err != nil {
		return domain.User{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeUserExit,
		fmt.Sprintf("user %q exited with %d tasks reassigned", u.Name, len(open)),
		&id.UserID, nil, events.Payload{"user_id": userID, "reassigned": len(open)}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	u.Status = domain.UserInactive

	if synth != nil {
		if _, err := synth.Handover(ctx, userID); err != nil {
			return u, nil
		}
	}
	return u, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/metrics"
	"github.com/apexcoding/apexcoding/internal/policy"
	"github.com/apexcoding/apexcoding/internal/repository"
	"github.com/apexcoding/apexcoding/internal/storage"
)

// MaxVersionLength bounds the version label set on check-in.
const MaxVersionLength = 64

// checkoutAttempts is how many times a checkout is tried when the holder
// changes between the conditional write and the re-read.
const checkoutAttempts = 2

// CheckoutService runs the checkout/checkin state machine of a project.
type CheckoutService struct {
	projects   repository.ProjectRepository
	users      repository.UserRepository
	commits    repository.CommitRepository
	activities repository.ActivityRepository
	tx         repository.TxManager
	storage    storage.Backend
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	leaseTTL   time.Duration
	now        Clock
}

// CheckoutConfig contains checkout settings.
type CheckoutConfig struct {
	// LeaseTTL is how long a checkout stays exclusive. Zero disables expiry.
	LeaseTTL time.Duration
}

// NewCheckoutService creates a new CheckoutService.
func NewCheckoutService(
	repos *repository.Repositories,
	backend storage.Backend,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config CheckoutConfig,
) *CheckoutService {
	return &CheckoutService{
		projects:   repos.Project,
		users:      repos.User,
		commits:    repos.Commit,
		activities: repos.Activity,
		tx:         repos.Tx,
		storage:    backend,
		metrics:    m,
		logger:     logger.With().Str("service", "checkout").Logger(),
		leaseTTL:   config.LeaseTTL,
		now:        SystemClock,
	}
}

// Checkout gives the caller exclusive hold of a project. Checking out a
// project the caller already holds succeeds and refreshes the lease.
func (s *CheckoutService) Checkout(ctx context.Context, caller domain.Caller, projectID string) (*domain.Project, error) {
	project, err := loadProject(ctx, s.projects, projectID)
	if err != nil {
		return nil, err
	}
	if err := policy.CanCheckout(caller, project).Err(); err != nil {
		s.metrics.AddCheckout(metrics.OutcomeDenied)
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		refresh := project.HeldBy(caller.ID)

		updated, err := s.tryCheckout(ctx, caller.ID, projectID, refresh)
		if err == nil {
			outcome := metrics.OutcomeAcquired
			if refresh {
				outcome = metrics.OutcomeRefreshed
			}
			s.metrics.AddCheckout(outcome)
			s.logger.Info().
				Str("project_id", projectID).
				Str("user_id", caller.ID).
				Str("outcome", outcome).
				Msg("project checked out")
			return updated, nil
		}
		if !isConditionFailed(err) {
			return nil, mapNotFound(err, domain.ErrProjectNotFound)
		}

		project, err = loadProject(ctx, s.projects, projectID)
		if err != nil {
			return nil, err
		}

		holder := project.Holder()
		busy := holder != "" && holder != caller.ID && !project.LeaseExpired(s.now())
		if busy || attempt >= checkoutAttempts {
			s.metrics.AddCheckout(metrics.OutcomeConflict)
			return nil, s.checkoutConflict(ctx, projectID, holder)
		}
	}
}

func (s *CheckoutService) tryCheckout(ctx context.Context, userID, projectID string, refresh bool) (*domain.Project, error) {
	now := s.now()
	var leaseUntil *time.Time
	if s.leaseTTL > 0 {
		t := now.Add(s.leaseTTL)
		leaseUntil = &t
	}

	var updated *domain.Project
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.projects.TryCheckout(ctx, projectID, userID, now, leaseUntil)
		if err != nil {
			return err
		}
		updated = p
		if refresh {
			return nil
		}
		return s.activities.Create(ctx, newActivity(projectID, userID, domain.ActivityCheckout, "checked out the project", now))
	})
	return updated, err
}

func (s *CheckoutService) checkoutConflict(ctx context.Context, projectID, holder string) error {
	if holder == "" {
		return domain.ErrCheckoutConflict
	}
	name := displayName(ctx, s.users, holder)
	return domain.NewDomainError(
		domain.ErrCheckoutConflict,
		fmt.Sprintf("Project is already checked out by %s", name),
		projectID,
	)
}

// CheckinInput contains the data needed to check a project in.
type CheckinInput struct {
	ProjectID string
	Message   string
	Version   string
	Files     []storage.Upload
}

// CheckinOutput contains the result of a check-in.
type CheckinOutput struct {
	Project *domain.Project
	Commit  *domain.Commit
}

// Checkin saves the uploaded files, releases the caller's checkout and
// records a commit. Files are stored before the conditional write and
// deleted again when the project write did not persist.
func (s *CheckoutService) Checkin(ctx context.Context, caller domain.Caller, input CheckinInput) (*CheckinOutput, error) {
	message, err := validateCommitMessage(input.Message)
	if err != nil {
		return nil, err
	}
	version := strings.TrimSpace(input.Version)
	if len(version) > MaxVersionLength {
		return nil, domain.Validationf("version must be at most %d characters", MaxVersionLength)
	}

	project, err := loadProject(ctx, s.projects, input.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := policy.CanCheckin(caller, project).Err(); err != nil {
		return nil, err
	}
	if !project.HeldBy(caller.ID) {
		return nil, domain.ErrNotHolder
	}

	author, err := s.users.GetByID(ctx, caller.ID)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrUserNotFound)
	}

	now := s.now()
	records, err := storage.SaveUploadedFiles(ctx, s.storage, project.ID, caller.ID, input.Files, now)
	if err != nil {
		s.logger.Error().Err(err).Str("project_id", project.ID).Msg("failed to save uploaded files")
		return nil, internalError(err)
	}

	commit := newCommit(project.ID, author, message, len(records), records, now)

	var updated *domain.Project
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.projects.Checkin(ctx, project.ID, caller.ID, domain.CheckinUpdate{
			Files:   records,
			Version: version,
			At:      now,
		})
		if err != nil {
			return err
		}
		updated = p

		if err := s.commits.Create(ctx, commit); err != nil {
			return err
		}
		return s.activities.Create(ctx, newActivity(project.ID, caller.ID, domain.ActivityCheckin, message, now))
	})
	if err != nil {
		s.discardUploads(context.WithoutCancel(ctx), project.ID, records)
		switch {
		case isConditionFailed(err):
			return nil, domain.ErrNotHolder
		case errors.Is(err, repository.ErrNotFound):
			return nil, domain.ErrProjectNotFound
		}
		s.logger.Error().Err(err).Str("project_id", project.ID).Msg("check-in failed")
		return nil, internalError(err)
	}

	s.metrics.AddCheckout(metrics.OutcomeCheckedIn)
	s.metrics.AddCommitRecorded()
	s.logger.Info().
		Str("project_id", project.ID).
		Str("user_id", caller.ID).
		Str("commit_id", commit.ID).
		Int("files", len(records)).
		Msg("project checked in")

	return &CheckinOutput{Project: updated, Commit: commit}, nil
}

// discardUploads deletes the files of a failed check-in unless the project
// record already references them, which happens when a store without
// transactions applied the project write before a later write failed.
func (s *CheckoutService) discardUploads(ctx context.Context, projectID string, records []domain.FileRecord) {
	if len(records) == 0 {
		return
	}

	p, err := s.projects.GetByID(ctx, projectID)
	switch {
	case err == nil && referencesAny(p.Files, records):
		s.logger.Error().
			Str("project_id", projectID).
			Int("files", len(records)).
			Msg("check-in partially applied, keeping stored files")
		return
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		s.logger.Warn().Err(err).Str("project_id", projectID).Msg("cannot verify failed check-in, keeping stored files")
		return
	}

	if err := storage.DeleteFiles(ctx, s.storage, records); err != nil {
		s.logger.Warn().Err(err).Str("project_id", projectID).Msg("failed to delete files of rejected check-in")
	}
}

func referencesAny(files, records []domain.FileRecord) bool {
	keys := make(map[string]struct{}, len(records))
	for _, r := range records {
		keys[r.StorageKey] = struct{}{}
	}
	for _, f := range files {
		if _, ok := keys[f.StorageKey]; ok {
			return true
		}
	}
	return false
}

// ForceRelease clears a checkout without a check-in. Owner or admin only.
func (s *CheckoutService) ForceRelease(ctx context.Context, caller domain.Caller, projectID string) (*domain.Project, error) {
	project, err := loadProject(ctx, s.projects, projectID)
	if err != nil {
		return nil, err
	}
	if err := policy.CanForceRelease(caller, project).Err(); err != nil {
		return nil, err
	}
	if !project.IsCheckedOut() {
		return nil, domain.ErrNotCheckedOut
	}

	now := s.now()
	holder := project.Holder()
	text := "released the checkout held by " + displayName(ctx, s.users, holder)

	var updated *domain.Project
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.projects.ForceRelease(ctx, projectID, now)
		if err != nil {
			return err
		}
		updated = p
		return s.activities.Create(ctx, newActivity(projectID, caller.ID, domain.ActivityReleased, text, now))
	})
	if err != nil {
		switch {
		case isConditionFailed(err):
			return nil, domain.ErrNotCheckedOut
		case errors.Is(err, repository.ErrNotFound):
			return nil, domain.ErrProjectNotFound
		}
		return nil, internalError(err)
	}

	s.metrics.AddCheckout(metrics.OutcomeReleased)
	s.logger.Info().
		Str("project_id", projectID).
		Str("holder_id", holder).
		Str("released_by", caller.ID).
		Msg("checkout force released")

	return updated, nil
}

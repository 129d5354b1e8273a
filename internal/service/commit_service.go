package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/metrics"
	"github.com/apexcoding/apexcoding/internal/pkg/crypto"
	"github.com/apexcoding/apexcoding/internal/policy"
	"github.com/apexcoding/apexcoding/internal/repository"
)

// MaxCommitMessageLength bounds commit messages.
const MaxCommitMessageLength = 2000

// CommitService records and reads the commit ledger.
type CommitService struct {
	commits    repository.CommitRepository
	projects   repository.ProjectRepository
	users      repository.UserRepository
	activities repository.ActivityRepository
	tx         repository.TxManager
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        Clock
}

// NewCommitService creates a new CommitService.
func NewCommitService(repos *repository.Repositories, m *metrics.Metrics, logger zerolog.Logger) *CommitService {
	return &CommitService{
		commits:    repos.Commit,
		projects:   repos.Project,
		users:      repos.User,
		activities: repos.Activity,
		tx:         repos.Tx,
		metrics:    m,
		logger:     logger.With().Str("service", "commit").Logger(),
		now:        SystemClock,
	}
}

// RecordCommitInput contains the data needed to record a commit.
type RecordCommitInput struct {
	ProjectID    string
	Message      string
	FilesChanged int

	// UserID attributes the commit. Empty means the caller; only admins may
	// record on behalf of someone else.
	UserID string
}

// RecordCommit appends a commit to the ledger and advances the project's
// lastUpdated in one transaction.
func (s *CommitService) RecordCommit(ctx context.Context, caller domain.Caller, input RecordCommitInput) (*domain.Commit, error) {
	message, err := validateCommitMessage(input.Message)
	if err != nil {
		return nil, err
	}
	if input.FilesChanged < 0 {
		return nil, domain.ErrNegativeFilesChanged
	}

	userID := caller.ID
	if input.UserID != "" && input.UserID != caller.ID {
		if !caller.IsAdmin {
			return nil, domain.NewDomainError(domain.ErrAccessDenied, "userId must match the authenticated user", "")
		}
		userID = input.UserID
	}

	project, err := loadProject(ctx, s.projects, input.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := policy.CanCommit(caller, project).Err(); err != nil {
		return nil, err
	}

	author, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrUserNotFound)
	}

	commit := newCommit(project.ID, author, message, input.FilesChanged, nil, s.now())

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.commits.Create(ctx, commit); err != nil {
			return err
		}
		if err := s.projects.Touch(ctx, project.ID, commit.Timestamp); err != nil {
			return err
		}
		return s.activities.Create(ctx, newActivity(project.ID, userID, domain.ActivityCommit, commit.Message, commit.Timestamp))
	})
	if err != nil {
		s.logger.Error().Err(err).Str("project_id", project.ID).Msg("failed to record commit")
		return nil, mapNotFound(err, domain.ErrProjectNotFound)
	}

	s.metrics.AddCommitRecorded()
	s.logger.Info().
		Str("commit_id", commit.ID).
		Str("project_id", project.ID).
		Str("user_id", userID).
		Int("files_changed", commit.FilesChanged).
		Msg("commit recorded")

	return commit, nil
}

// Get retrieves a commit by ID.
func (s *CommitService) Get(ctx context.Context, id string) (*domain.Commit, error) {
	c, err := s.commits.GetByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrCommitNotFound)
	}
	return c, nil
}

// ListByProject returns a project's commits, newest first.
func (s *CommitService) ListByProject(ctx context.Context, projectID string, opts repository.ListOptions) (*repository.ListResult[domain.Commit], error) {
	if _, err := loadProject(ctx, s.projects, projectID); err != nil {
		return nil, err
	}
	res, err := s.commits.ListByProject(ctx, projectID, opts)
	if err != nil {
		return nil, internalError(err)
	}
	return res, nil
}

// Delete removes a commit from the ledger. Admin only.
func (s *CommitService) Delete(ctx context.Context, caller domain.Caller, id string) error {
	if !caller.IsAdmin {
		return domain.ErrAccessDenied
	}
	if err := s.commits.Delete(ctx, id); err != nil {
		return mapNotFound(err, domain.ErrCommitNotFound)
	}
	s.logger.Info().Str("commit_id", id).Str("admin_id", caller.ID).Msg("commit deleted")
	return nil
}

func validateCommitMessage(message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", domain.ErrEmptyMessage
	}
	if len(message) > MaxCommitMessageLength {
		return "", domain.Validationf("commit message must be at most %d characters", MaxCommitMessageLength)
	}
	return message, nil
}

// newCommit builds a ledger entry. The hash covers the attribution, the
// message, the timestamp and the content hashes of any checked-in files.
func newCommit(projectID string, author *domain.User, message string, filesChanged int, files []domain.FileRecord, at time.Time) *domain.Commit {
	fields := []string{
		projectID,
		author.ID,
		message,
		strconv.Itoa(filesChanged),
		at.UTC().Format(time.RFC3339Nano),
	}
	for _, f := range files {
		fields = append(fields, f.Hash)
	}

	return &domain.Commit{
		ID:           xid.New().String(),
		Hash:         crypto.HashFields(fields...),
		Message:      message,
		Author:       author.DisplayName(),
		UserID:       author.ID,
		ProjectID:    projectID,
		FilesChanged: filesChanged,
		Timestamp:    at,
	}
}

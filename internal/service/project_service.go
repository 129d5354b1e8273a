package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/pkg/htmlsanitize"
	"github.com/apexcoding/apexcoding/internal/policy"
	"github.com/apexcoding/apexcoding/internal/repository"
	"github.com/apexcoding/apexcoding/internal/storage"
)

// Project field limits.
const (
	MaxProjectNameLength        = 100
	MaxProjectDescriptionLength = 5000
	MaxLanguageLength           = 50

	// RecentCommitsLimit is how many commits a project view embeds.
	RecentCommitsLimit = 20
)

// ProjectService handles project lifecycle operations.
type ProjectService struct {
	projects   repository.ProjectRepository
	commits    repository.CommitRepository
	activities repository.ActivityRepository
	tx         repository.TxManager
	storage    storage.Backend
	logger     zerolog.Logger
	now        Clock
}

// NewProjectService creates a new ProjectService.
func NewProjectService(repos *repository.Repositories, backend storage.Backend, logger zerolog.Logger) *ProjectService {
	return &ProjectService{
		projects:   repos.Project,
		commits:    repos.Commit,
		activities: repos.Activity,
		tx:         repos.Tx,
		storage:    backend,
		logger:     logger.With().Str("service", "project").Logger(),
		now:        SystemClock,
	}
}

// =============================================================================
// Input/Output Structs
// =============================================================================

// CreateProjectInput contains the data needed to create a project.
type CreateProjectInput struct {
	Name        string
	Description string
	Status      domain.ProjectStatus
	Language    string
}

// ProjectView is a project together with the ledger data computed at read
// time.
type ProjectView struct {
	*domain.Project

	LastCommit  *domain.Commit   `json:"lastCommit"`
	Commits     []*domain.Commit `json:"commits"`
	CommitCount int64            `json:"commitCount"`
}

// =============================================================================
// Operations
// =============================================================================

// Create creates a project owned by the caller, who becomes its sole member.
func (s *ProjectService) Create(ctx context.Context, caller domain.Caller, input CreateProjectInput) (*domain.Project, error) {
	name, err := cleanProjectName(input.Name)
	if err != nil {
		return nil, err
	}

	project := domain.NewProject(uuid.NewString(), caller.ID, name)
	update := domain.ProjectUpdate{
		Description: &input.Description,
		Language:    &input.Language,
	}
	if input.Status != "" {
		update.Status = &input.Status
	}
	update, err = cleanProjectUpdate(update)
	if err != nil {
		return nil, err
	}
	update.Apply(project)

	now := s.now()
	project.CreatedAt = now
	project.LastUpdated = now

	if err := s.projects.Create(ctx, project); err != nil {
		s.logger.Error().Err(err).Str("name", name).Msg("failed to create project")
		return nil, internalError(err)
	}

	s.logger.Info().
		Str("project_id", project.ID).
		Str("owner_id", caller.ID).
		Str("name", project.Name).
		Msg("project created")

	return project, nil
}

// Get returns a project with its latest commits.
func (s *ProjectService) Get(ctx context.Context, projectID string) (*ProjectView, error) {
	project, err := loadProject(ctx, s.projects, projectID)
	if err != nil {
		return nil, err
	}

	recent, err := s.commits.ListByProject(ctx, projectID, repository.ListOptions{Limit: RecentCommitsLimit})
	if err != nil {
		return nil, internalError(err)
	}

	view := &ProjectView{
		Project:     project,
		Commits:     recent.Items,
		CommitCount: recent.Total,
	}
	if len(recent.Items) > 0 {
		view.LastCommit = recent.Items[0]
	}
	return view, nil
}

// List returns projects matching the filter.
func (s *ProjectService) List(ctx context.Context, filter repository.ProjectFilter) (*repository.ListResult[domain.Project], error) {
	res, err := s.projects.List(ctx, filter)
	if err != nil {
		return nil, internalError(err)
	}
	return res, nil
}

// Update edits the owner-editable metadata of a project.
func (s *ProjectService) Update(ctx context.Context, caller domain.Caller, projectID string, update domain.ProjectUpdate) (*domain.Project, error) {
	project, err := loadProject(ctx, s.projects, projectID)
	if err != nil {
		return nil, err
	}
	if err := policy.CanEdit(caller, project).Err(); err != nil {
		return nil, err
	}

	if update.Name != nil {
		name, err := cleanProjectName(*update.Name)
		if err != nil {
			return nil, err
		}
		update.Name = &name
	}
	update, err = cleanProjectUpdate(update)
	if err != nil {
		return nil, err
	}
	if update.IsEmpty() {
		return project, nil
	}

	updated, err := s.projects.UpdateMetadata(ctx, projectID, update, s.now())
	if err != nil {
		return nil, mapNotFound(err, domain.ErrProjectNotFound)
	}

	s.logger.Info().
		Str("project_id", projectID).
		Str("user_id", caller.ID).
		Msg("project updated")

	return updated, nil
}

// Delete removes a project together with its commits, activities and
// stored files.
func (s *ProjectService) Delete(ctx context.Context, caller domain.Caller, projectID string) error {
	project, err := loadProject(ctx, s.projects, projectID)
	if err != nil {
		return err
	}
	if err := policy.CanEdit(caller, project).Err(); err != nil {
		return err
	}

	if err := s.purge(ctx, projectID); err != nil {
		return err
	}

	s.logger.Info().
		Str("project_id", projectID).
		Str("user_id", caller.ID).
		Msg("project deleted")

	return nil
}

// purge deletes a project and everything that hangs off it, without any
// authorization check.
func (s *ProjectService) purge(ctx context.Context, projectID string) error {
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		return s.deleteRecords(ctx, projectID)
	})
	if err != nil {
		return mapNotFound(err, domain.ErrProjectNotFound)
	}
	s.deleteFiles(ctx, projectID)
	return nil
}

// deleteRecords deletes the project document with its commits and
// activities. Callers run it inside a transaction.
func (s *ProjectService) deleteRecords(ctx context.Context, projectID string) error {
	if err := s.commits.DeleteByProject(ctx, projectID); err != nil {
		return err
	}
	if err := s.activities.DeleteByProject(ctx, projectID); err != nil {
		return err
	}
	return s.projects.Delete(ctx, projectID)
}

// deleteFiles removes stored files once the records are gone. A failure
// leaves orphaned objects, never records pointing at nothing.
func (s *ProjectService) deleteFiles(ctx context.Context, projectID string) {
	if err := s.storage.DeletePrefix(context.WithoutCancel(ctx), storage.ProjectPrefix(projectID)); err != nil {
		s.logger.Warn().Err(err).Str("project_id", projectID).Msg("failed to delete project files")
	}
}

func cleanProjectName(name string) (string, error) {
	name = htmlsanitize.StripTags(name)
	if name == "" {
		return "", domain.Validationf("project name is required")
	}
	if len(name) > MaxProjectNameLength {
		return "", domain.Validationf("project name must be at most %d characters", MaxProjectNameLength)
	}
	return name, nil
}

// cleanProjectUpdate sanitizes and validates the optional fields of update.
func cleanProjectUpdate(update domain.ProjectUpdate) (domain.ProjectUpdate, error) {
	if update.Description != nil {
		d := htmlsanitize.Sanitize(*update.Description)
		if len(d) > MaxProjectDescriptionLength {
			return update, domain.Validationf("description must be at most %d characters", MaxProjectDescriptionLength)
		}
		update.Description = &d
	}
	if update.Language != nil {
		l := strings.TrimSpace(htmlsanitize.StripTags(*update.Language))
		if len(l) > MaxLanguageLength {
			return update, domain.Validationf("language must be at most %d characters", MaxLanguageLength)
		}
		update.Language = &l
	}
	if update.Status != nil && !update.Status.Valid() {
		return update, domain.Validationf("status must be one of planning, active, maintained, archived")
	}
	return update, nil
}

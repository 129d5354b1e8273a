package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/pkg/htmlsanitize"
	"github.com/apexcoding/apexcoding/internal/policy"
	"github.com/apexcoding/apexcoding/internal/repository"
)

// MaxMessageLength bounds project messages.
const MaxMessageLength = 2000

// ActivityService posts messages to and reads a project's activity feed.
type ActivityService struct {
	projects   repository.ProjectRepository
	activities repository.ActivityRepository
	logger     zerolog.Logger
	now        Clock
}

// NewActivityService creates a new ActivityService.
func NewActivityService(repos *repository.Repositories, logger zerolog.Logger) *ActivityService {
	return &ActivityService{
		projects:   repos.Project,
		activities: repos.Activity,
		logger:     logger.With().Str("service", "activity").Logger(),
		now:        SystemClock,
	}
}

// PostMessage adds a message to the feed of a project the caller can view.
func (s *ActivityService) PostMessage(ctx context.Context, caller domain.Caller, projectID, text string) (*domain.Activity, error) {
	text = htmlsanitize.Sanitize(text)
	if text == "" {
		return nil, domain.Validationf("message text is required")
	}
	if len(text) > MaxMessageLength {
		return nil, domain.Validationf("message must be at most %d characters", MaxMessageLength)
	}

	project, err := loadProject(ctx, s.projects, projectID)
	if err != nil {
		return nil, err
	}
	if err := policy.CanPostMessage(caller, project).Err(); err != nil {
		return nil, err
	}

	activity := newActivity(projectID, caller.ID, domain.ActivityMessage, text, s.now())
	if err := s.activities.Create(ctx, activity); err != nil {
		return nil, internalError(err)
	}

	s.logger.Debug().
		Str("project_id", projectID).
		Str("user_id", caller.ID).
		Msg("message posted")

	return activity, nil
}

// List returns a project's feed, newest first.
func (s *ActivityService) List(ctx context.Context, caller domain.Caller, projectID string, opts repository.ListOptions) (*repository.ListResult[domain.Activity], error) {
	project, err := loadProject(ctx, s.projects, projectID)
	if err != nil {
		return nil, err
	}
	if err := policy.CanView(caller, project).Err(); err != nil {
		return nil, err
	}

	res, err := s.activities.ListByProject(ctx, projectID, opts)
	if err != nil {
		return nil, internalError(err)
	}
	return res, nil
}

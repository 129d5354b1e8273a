package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/xid"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/policy"
	"github.com/apexcoding/apexcoding/internal/repository"
)

func loadProject(ctx context.Context, projects repository.ProjectRepository, id string) (*domain.Project, error) {
	p, err := projects.GetByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrProjectNotFound)
	}
	return p, nil
}

// explainRejection re-reads the project after a conditional write matched
// nothing and re-runs check on the fresh snapshot to name the reason. When
// the fresh snapshot passes, the state changed between the two reads and
// fallback is returned.
func explainRejection(ctx context.Context, projects repository.ProjectRepository, id string, check func(p *domain.Project) policy.Decision, fallback error) error {
	p, err := loadProject(ctx, projects, id)
	if err != nil {
		return err
	}
	if err := check(p).Err(); err != nil {
		return err
	}
	return fallback
}

// displayName looks up a user's display name, falling back to the ID.
func displayName(ctx context.Context, users repository.UserRepository, id string) string {
	u, err := users.GetByID(ctx, id)
	if err != nil {
		return id
	}
	return u.DisplayName()
}

func newActivity(projectID, userID string, kind domain.ActivityKind, text string, at time.Time) *domain.Activity {
	return &domain.Activity{
		ID:        xid.New().String(),
		ProjectID: projectID,
		UserID:    userID,
		Kind:      kind,
		Text:      text,
		CreatedAt: at,
	}
}

func isConditionFailed(err error) bool {
	return errors.Is(err, repository.ErrConditionFailed)
}

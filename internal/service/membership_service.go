package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/policy"
	"github.com/apexcoding/apexcoding/internal/repository"
)

// MembershipService changes who belongs to and who owns a project.
type MembershipService struct {
	projects   repository.ProjectRepository
	users      repository.UserRepository
	activities repository.ActivityRepository
	tx         repository.TxManager
	logger     zerolog.Logger
	now        Clock
}

// NewMembershipService creates a new MembershipService.
func NewMembershipService(repos *repository.Repositories, logger zerolog.Logger) *MembershipService {
	return &MembershipService{
		projects:   repos.Project,
		users:      repos.User,
		activities: repos.Activity,
		tx:         repos.Tx,
		logger:     logger.With().Str("service", "membership").Logger(),
		now:        SystemClock,
	}
}

// errConcurrentChange is returned when a guarded write was rejected but a
// fresh read passes the same guard.
func errConcurrentChange(projectID string) error {
	return domain.NewDomainError(domain.ErrConflict, "project changed concurrently, retry the request", projectID)
}

// AddMember adds one of the caller's friends to a project.
func (s *MembershipService) AddMember(ctx context.Context, caller domain.Caller, projectID, userID string) (*domain.Project, error) {
	project, err := loadProject(ctx, s.projects, projectID)
	if err != nil {
		return nil, err
	}
	candidate, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrUserNotFound)
	}

	check := func(p *domain.Project) policy.Decision {
		return policy.CanAddMember(caller, p, candidate.ID)
	}
	if err := check(project).Err(); err != nil {
		return nil, err
	}

	now := s.now()
	var updated *domain.Project
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.projects.AddMember(ctx, projectID, candidate.ID, now)
		if err != nil {
			return err
		}
		updated = p
		return s.activities.Create(ctx, newActivity(projectID, caller.ID, domain.ActivityMemberAdded,
			"added "+candidate.DisplayName()+" to the project", now))
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, explainRejection(ctx, s.projects, projectID, check, domain.ErrAlreadyMember)
		}
		return nil, mapNotFound(err, domain.ErrProjectNotFound)
	}

	s.logger.Info().
		Str("project_id", projectID).
		Str("member_id", candidate.ID).
		Str("added_by", caller.ID).
		Msg("member added")

	return updated, nil
}

// RemoveMember removes a member other than the owner. A member holding the
// checkout cannot be removed until the checkout is released.
func (s *MembershipService) RemoveMember(ctx context.Context, caller domain.Caller, projectID, memberID string) (*domain.Project, error) {
	project, err := loadProject(ctx, s.projects, projectID)
	if err != nil {
		return nil, err
	}

	check := func(p *domain.Project) policy.Decision {
		return policy.CanRemoveMember(caller, p, memberID)
	}
	if err := check(project).Err(); err != nil {
		return nil, err
	}

	now := s.now()
	text := "removed " + displayName(ctx, s.users, memberID) + " from the project"

	var updated *domain.Project
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.projects.RemoveMember(ctx, projectID, memberID, now)
		if err != nil {
			return err
		}
		updated = p
		return s.activities.Create(ctx, newActivity(projectID, caller.ID, domain.ActivityMemberRemoved, text, now))
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, explainRejection(ctx, s.projects, projectID, check, errConcurrentChange(projectID))
		}
		return nil, mapNotFound(err, domain.ErrProjectNotFound)
	}

	s.logger.Info().
		Str("project_id", projectID).
		Str("member_id", memberID).
		Str("removed_by", caller.ID).
		Msg("member removed")

	return updated, nil
}

// TransferOwnership hands the project to another member. The previous
// owner stays a member.
func (s *MembershipService) TransferOwnership(ctx context.Context, caller domain.Caller, projectID, newOwnerID string) (*domain.Project, error) {
	if newOwnerID == "" {
		return nil, domain.Validationf("newOwnerId is required")
	}

	project, err := loadProject(ctx, s.projects, projectID)
	if err != nil {
		return nil, err
	}

	check := func(p *domain.Project) policy.Decision {
		return policy.CanTransferOwnership(caller, p, newOwnerID)
	}
	if err := check(project).Err(); err != nil {
		return nil, err
	}
	if newOwnerID == caller.ID {
		return project, nil
	}

	now := s.now()
	text := "transferred ownership to " + displayName(ctx, s.users, newOwnerID)

	var updated *domain.Project
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.projects.TransferOwnership(ctx, projectID, caller.ID, newOwnerID, now)
		if err != nil {
			return err
		}
		updated = p
		return s.activities.Create(ctx, newActivity(projectID, caller.ID, domain.ActivityOwnershipTransferred, text, now))
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, explainRejection(ctx, s.projects, projectID, check, errConcurrentChange(projectID))
		}
		return nil, mapNotFound(err, domain.ErrProjectNotFound)
	}

	s.logger.Info().
		Str("project_id", projectID).
		Str("from", caller.ID).
		Str("to", newOwnerID).
		Msg("ownership transferred")

	return updated, nil
}

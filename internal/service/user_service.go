package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apexcoding/apexcoding/internal/auth"
	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/pkg/htmlsanitize"
	"github.com/apexcoding/apexcoding/internal/pkg/validation"
	"github.com/apexcoding/apexcoding/internal/repository"
)

// Account field limits. bcrypt ignores input past 72 bytes.
const (
	MinPasswordLength    = 8
	MaxPasswordLength    = 72
	MaxProfileNameLength = 100
	MaxTitleLength       = 100
	MaxAvatarLength      = 500
	MaxBioLength         = 2000
)

// UserService handles accounts, profiles and friendships.
type UserService struct {
	users      repository.UserRepository
	projects   repository.ProjectRepository
	activities repository.ActivityRepository
	tx         repository.TxManager
	projectSvc *ProjectService
	passwords  *auth.PasswordHasher
	tokens     *auth.TokenManager
	logger     zerolog.Logger
	now        Clock
}

// NewUserService creates a new UserService.
func NewUserService(
	repos *repository.Repositories,
	projectSvc *ProjectService,
	passwords *auth.PasswordHasher,
	tokens *auth.TokenManager,
	logger zerolog.Logger,
) *UserService {
	return &UserService{
		users:      repos.User,
		projects:   repos.Project,
		activities: repos.Activity,
		tx:         repos.Tx,
		projectSvc: projectSvc,
		passwords:  passwords,
		tokens:     tokens,
		logger:     logger.With().Str("service", "user").Logger(),
		now:        SystemClock,
	}
}

// =============================================================================
// Input/Output Structs
// =============================================================================

// CreateUserInput contains the data needed to create a new user.
type CreateUserInput struct {
	Username string `json:"username" validate:"username"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	IsAdmin  bool   `json:"isAdmin"`
}

// LoginInput contains the credentials of a login. Identifier is either the
// username or the email address.
type LoginInput struct {
	Identifier string
	Password   string
}

// AuthOutput contains an authenticated user and a fresh bearer token.
type AuthOutput struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// ProfileUpdate carries the user-editable profile fields. Nil fields are
// left unchanged.
type ProfileUpdate struct {
	Name   *string
	Avatar *string
	Title  *string
	Bio    *string
}

// =============================================================================
// Accounts
// =============================================================================

// Create creates a new user account.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*domain.User, error) {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	exists, err := s.users.ExistsByUsername(ctx, input.Username)
	if err != nil {
		s.logger.Error().Err(err).Str("username", input.Username).Msg("failed to check username existence")
		return nil, internalError(err)
	}
	if exists {
		return nil, domain.NewDomainError(domain.ErrUserAlreadyExists, "username is already taken", input.Username)
	}

	exists, err = s.users.ExistsByEmail(ctx, input.Email)
	if err != nil {
		s.logger.Error().Err(err).Str("email", input.Email).Msg("failed to check email existence")
		return nil, internalError(err)
	}
	if exists {
		return nil, domain.NewDomainError(domain.ErrUserAlreadyExists, "email is already registered", input.Email)
	}

	hash, err := s.passwords.Hash(input.Password)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to hash password")
		return nil, err
	}

	user := domain.NewUser(uuid.NewString(), input.Username, input.Email, hash)
	user.IsAdmin = input.IsAdmin
	if name := htmlsanitize.StripTags(input.Name); name != "" {
		user.Profile.Name = name
	}
	now := s.now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, domain.ErrUserAlreadyExists
		}
		s.logger.Error().Err(err).Str("username", input.Username).Msg("failed to create user")
		return nil, internalError(err)
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Str("username", user.Username).
		Bool("is_admin", user.IsAdmin).
		Msg("user created")

	return user, nil
}

// Signup registers a regular user and issues a token for it.
func (s *UserService) Signup(ctx context.Context, input CreateUserInput) (*AuthOutput, error) {
	input.IsAdmin = false
	user, err := s.Create(ctx, input)
	if err != nil {
		return nil, err
	}
	return s.issue(user)
}

// Login verifies credentials and issues a token.
func (s *UserService) Login(ctx context.Context, input LoginInput) (*AuthOutput, error) {
	identifier := strings.TrimSpace(input.Identifier)
	if identifier == "" || input.Password == "" {
		return nil, domain.Validationf("username or email and password are required")
	}

	var (
		user *domain.User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = s.users.GetByEmail(ctx, strings.ToLower(identifier))
	} else {
		user, err = s.users.GetByUsername(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Don't expose whether the account exists.
			s.logger.Debug().Str("identifier", identifier).Msg("user not found during login")
			return nil, domain.ErrInvalidCredentials
		}
		return nil, internalError(err)
	}

	if !user.CanAuthenticate() {
		s.logger.Debug().Str("user_id", user.ID).Msg("inactive user attempted login")
		return nil, domain.ErrUserInactive
	}
	if err := s.passwords.Compare(user.PasswordHash, input.Password); err != nil {
		s.logger.Debug().Str("user_id", user.ID).Msg("invalid password during login")
		return nil, err
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Str("username", user.Username).
		Msg("user authenticated")

	return s.issue(user)
}

func (s *UserService) issue(user *domain.User) (*AuthOutput, error) {
	token, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("failed to issue token")
		return nil, internalError(err)
	}
	return &AuthOutput{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// Get retrieves a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrUserNotFound)
	}
	return user, nil
}

// GetByUsername retrieves a user by username.
func (s *UserService) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrUserNotFound)
	}
	return user, nil
}

// UpdateProfile edits the caller's own profile.
func (s *UserService) UpdateProfile(ctx context.Context, caller domain.Caller, update ProfileUpdate) (*domain.User, error) {
	user, err := s.Get(ctx, caller.ID)
	if err != nil {
		return nil, err
	}

	fields := []struct {
		value *string
		dst   *string
		name  string
		limit int
		rich  bool
	}{
		{update.Name, &user.Profile.Name, "name", MaxProfileNameLength, false},
		{update.Avatar, &user.Profile.Avatar, "avatar", MaxAvatarLength, false},
		{update.Title, &user.Profile.Title, "title", MaxTitleLength, false},
		{update.Bio, &user.Profile.Bio, "bio", MaxBioLength, true},
	}
	changed := false
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		v := htmlsanitize.StripTags(*f.value)
		if f.rich {
			v = htmlsanitize.Sanitize(*f.value)
		}
		if len(v) > f.limit {
			return nil, domain.Validationf("%s must be at most %d characters", f.name, f.limit)
		}
		*f.dst = v
		changed = true
	}
	if !changed {
		return user, nil
	}

	user.UpdatedAt = s.now()
	if err := s.users.Update(ctx, user); err != nil {
		return nil, mapNotFound(err, domain.ErrUserNotFound)
	}

	s.logger.Info().Str("user_id", user.ID).Msg("profile updated")
	return user, nil
}

// SetActive enables or disables an account.
func (s *UserService) SetActive(ctx context.Context, userID string, isActive bool) error {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}

	user.IsActive = isActive
	user.UpdatedAt = s.now()
	if err := s.users.Update(ctx, user); err != nil {
		return mapNotFound(err, domain.ErrUserNotFound)
	}

	s.logger.Info().
		Str("user_id", userID).
		Bool("is_active", isActive).
		Msg("user active status changed")
	return nil
}

// =============================================================================
// Friendships
// =============================================================================

// AddFriend makes the caller and friendID friends of each other.
func (s *UserService) AddFriend(ctx context.Context, caller domain.Caller, friendID string) (*domain.User, error) {
	if friendID == caller.ID {
		return nil, domain.ErrSelfFriend
	}
	if _, err := s.Get(ctx, friendID); err != nil {
		return nil, err
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.users.AddFriend(ctx, caller.ID, friendID); err != nil {
			return err
		}
		return s.users.AddFriend(ctx, friendID, caller.ID)
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, domain.ErrAlreadyFriends
		}
		return nil, mapNotFound(err, domain.ErrUserNotFound)
	}

	s.logger.Info().
		Str("user_id", caller.ID).
		Str("friend_id", friendID).
		Msg("friendship added")

	return s.Get(ctx, caller.ID)
}

// RemoveFriend ends the friendship between the caller and friendID.
// Existing project memberships are kept.
func (s *UserService) RemoveFriend(ctx context.Context, caller domain.Caller, friendID string) (*domain.User, error) {
	if friendID == caller.ID {
		return nil, domain.ErrSelfFriend
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.users.RemoveFriend(ctx, caller.ID, friendID); err != nil {
			return err
		}
		return s.users.RemoveFriend(ctx, friendID, caller.ID)
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, domain.ErrNotFriends
		}
		return nil, mapNotFound(err, domain.ErrUserNotFound)
	}

	s.logger.Info().
		Str("user_id", caller.ID).
		Str("friend_id", friendID).
		Msg("friendship removed")

	return s.Get(ctx, caller.ID)
}

// =============================================================================
// Deletion
// =============================================================================

// Delete removes an account. Users may delete themselves; admins may delete
// anyone. Held checkouts are released, owned projects pass to their first
// other member or are deleted when there is none, and every membership and
// friendship reference is removed. Commits stay in the ledger.
func (s *UserService) Delete(ctx context.Context, caller domain.Caller, userID string) error {
	if caller.ID != userID && !caller.IsAdmin {
		return domain.ErrAccessDenied
	}
	if _, err := s.Get(ctx, userID); err != nil {
		return err
	}

	owned, err := s.ownedProjects(ctx, userID)
	if err != nil {
		return internalError(err)
	}

	now := s.now()
	var purged []string
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		purged = purged[:0]

		if _, err := s.projects.ReleaseHeldBy(ctx, userID, now); err != nil {
			return err
		}

		for _, p := range owned {
			heir := firstOtherMember(p, userID)
			if heir == "" {
				if err := s.projectSvc.deleteRecords(ctx, p.ID); err != nil {
					return err
				}
				purged = append(purged, p.ID)
				continue
			}
			if _, err := s.projects.TransferOwnership(ctx, p.ID, userID, heir, now); err != nil {
				return err
			}
			if err := s.activities.Create(ctx, newActivity(p.ID, heir, domain.ActivityOwnershipTransferred,
				"became owner after the previous owner left", now)); err != nil {
				return err
			}
		}

		if err := s.projects.RemoveMemberEverywhere(ctx, userID, now); err != nil {
			return err
		}
		if err := s.users.RemoveFriendEverywhere(ctx, userID); err != nil {
			return err
		}
		if err := s.activities.DeleteByUser(ctx, userID); err != nil {
			return err
		}
		return s.users.Delete(ctx, userID)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to delete user")
		if isConditionFailed(err) {
			return errConcurrentChange(userID)
		}
		return mapNotFound(err, domain.ErrUserNotFound)
	}

	for _, id := range purged {
		s.projectSvc.deleteFiles(ctx, id)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("deleted_by", caller.ID).
		Int("projects_deleted", len(purged)).
		Int("projects_transferred", len(owned)-len(purged)).
		Msg("user deleted")

	return nil
}

// ownedProjects pages through every project owned by userID.
func (s *UserService) ownedProjects(ctx context.Context, userID string) ([]*domain.Project, error) {
	var owned []*domain.Project
	for offset := 0; ; offset += repository.MaxListLimit {
		res, err := s.projects.List(ctx, repository.ProjectFilter{
			OwnerID:     userID,
			ListOptions: repository.ListOptions{Offset: offset, Limit: repository.MaxListLimit},
		})
		if err != nil {
			return nil, err
		}
		owned = append(owned, res.Items...)
		if len(res.Items) < repository.MaxListLimit {
			return owned, nil
		}
	}
}

func firstOtherMember(p *domain.Project, userID string) string {
	for _, m := range p.Members {
		if m != userID {
			return m
		}
	}
	return ""
}

func validateCreateInput(input CreateUserInput) error {
	if err := validation.Struct(input); err != nil {
		return err
	}
	// bcrypt limits are in bytes, not runes.
	if len(input.Password) < MinPasswordLength {
		return domain.Validationf("password must be at least %d characters", MinPasswordLength)
	}
	if len(input.Password) > MaxPasswordLength {
		return domain.Validationf("password must be at most %d characters", MaxPasswordLength)
	}
	return nil
}

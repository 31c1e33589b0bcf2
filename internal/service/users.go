package service

import (
	"context"
	"time"

	"github.com/educhat/internal/model"
)

type userStore interface {
	userDirectory
	Upsert(ctx context.Context, u *model.User) error
	SearchByName(ctx context.Context, query string, limit int) ([]model.User, error)
	SetOnline(ctx context.Context, userID string, online bool) error
	UpdateProfile(ctx context.Context, userID, displayName, avatarURL string) error
}

// UserService mirrors identity-service profiles into the local users table
// and serves directory lookups.
type UserService struct {
	users userStore
}

func NewUserService(users userStore) *UserService {
	return &UserService{users: users}
}

// Ensure makes sure a profile row exists for the authenticated user. The
// identity service owns the profile; this mirror exists for joins and
// directory search.
func (s *UserService) Ensure(ctx context.Context, u *model.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	return s.users.Upsert(ctx, u)
}

func (s *UserService) Get(ctx context.Context, id string) (*model.User, error) {
	return s.users.GetByID(ctx, id)
}

// Search finds users by display name or email fragment.
func (s *UserService) Search(ctx context.Context, query string, limit int) ([]model.User, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	return s.users.SearchByName(ctx, query, limit)
}

func (s *UserService) SetOnline(ctx context.Context, userID string, online bool) error {
	return s.users.SetOnline(ctx, userID, online)
}

// UpdateProfile changes the local display fields. Empty values keep the
// current ones.
func (s *UserService) UpdateProfile(ctx context.Context, userID, displayName, avatarURL string) (*model.User, error) {
	current, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if displayName == "" {
		displayName = current.DisplayName
	}
	if avatarURL == "" {
		avatarURL = current.AvatarURL
	}
	if err := s.users.UpdateProfile(ctx, userID, displayName, avatarURL); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, userID)
}

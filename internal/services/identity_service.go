package services

import (
	"context"

	"dealroom-chat/internal/domain/user"
	"dealroom-chat/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ProfileCache is a best-effort cache in front of the identity provider.
// Misses return nil with no error.
type ProfileCache interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*user.Info, error)
	SetUser(ctx context.Context, info user.Info) error
	GetCompanyMembers(ctx context.Context, companyID uuid.UUID) ([]uuid.UUID, error)
	SetCompanyMembers(ctx context.Context, companyID uuid.UUID, ids []uuid.UUID) error
}

// IdentityService reads profiles through the cache and coalesces concurrent
// lookups of the same id.
type IdentityService struct {
	provider repository.IdentityProvider
	cache    ProfileCache
	group    singleflight.Group
	logger   *zap.Logger
}

var _ repository.IdentityProvider = (*IdentityService)(nil)

func NewIdentityService(provider repository.IdentityProvider, cache ProfileCache, logger *zap.Logger) *IdentityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityService{
		provider: provider,
		cache:    cache,
		logger:   logger.With(zap.String("component", "identity")),
	}
}

func (s *IdentityService) GetUser(ctx context.Context, userID uuid.UUID) (user.Info, error) {
	if s.cache != nil {
		cached, err := s.cache.GetUser(ctx, userID)
		if err != nil {
			s.logger.Warn("profile cache read failed", zap.String("user_id", userID.String()), zap.Error(err))
		} else if cached != nil {
			return *cached, nil
		}
	}

	v, err, _ := s.group.Do("user:"+userID.String(), func() (interface{}, error) {
		info, err := s.provider.GetUser(ctx, userID)
		if err != nil {
			return user.Info{}, err
		}
		if s.cache != nil {
			if err := s.cache.SetUser(ctx, info); err != nil {
				s.logger.Warn("profile cache write failed", zap.String("user_id", userID.String()), zap.Error(err))
			}
		}
		return info, nil
	})
	if err != nil {
		return user.Info{}, err
	}
	return v.(user.Info), nil
}

func (s *IdentityService) CompanyMembers(ctx context.Context, companyID uuid.UUID) ([]uuid.UUID, error) {
	if s.cache != nil {
		cached, err := s.cache.GetCompanyMembers(ctx, companyID)
		if err != nil {
			s.logger.Warn("company cache read failed", zap.String("company_id", companyID.String()), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	v, err, _ := s.group.Do("company:"+companyID.String(), func() (interface{}, error) {
		ids, err := s.provider.CompanyMembers(ctx, companyID)
		if err != nil {
			return nil, err
		}
		if s.cache != nil && len(ids) > 0 {
			if err := s.cache.SetCompanyMembers(ctx, companyID, ids); err != nil {
				s.logger.Warn("company cache write failed", zap.String("company_id", companyID.String()), zap.Error(err))
			}
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	ids, _ := v.([]uuid.UUID)
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	return out, nil
}

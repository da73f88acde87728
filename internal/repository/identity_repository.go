package repository

import (
	"context"
	"slices"
	"sync"

	"dealroom-chat/internal/domain/user"
	dealroom_errors "dealroom-chat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PostgresIdentityProvider reads the profile subsystem's tables.
type PostgresIdentityProvider struct {
	db *gorm.DB
}

func NewIdentityProvider(db *gorm.DB) IdentityProvider {
	return &PostgresIdentityProvider{db: db}
}

func (p *PostgresIdentityProvider) GetUser(ctx context.Context, userID uuid.UUID) (user.Info, error) {
	var u user.User
	if err := p.db.WithContext(ctx).Where("id = ?", userID).First(&u).Error; err != nil {
		return user.Info{}, storeErr(err)
	}

	var companyIDs []uuid.UUID
	err := p.db.WithContext(ctx).
		Model(&user.CompanyUser{}).
		Where("user_id = ?", userID).
		Order("company_id ASC").
		Pluck("company_id", &companyIDs).Error
	if err != nil {
		return user.Info{}, storeErr(err)
	}

	return user.Info{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		CompanyIDs:  companyIDs,
	}, nil
}

func (p *PostgresIdentityProvider) CompanyMembers(ctx context.Context, companyID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := p.db.WithContext(ctx).
		Model(&user.CompanyUser{}).
		Where("company_id = ?", companyID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, storeErr(err)
	}
	return ids, nil
}

// StaticIdentityProvider serves identities registered in memory. It pairs
// with MemoryRoomStore for local runs and tests.
type StaticIdentityProvider struct {
	mu        sync.RWMutex
	users     map[uuid.UUID]user.Info
	companies map[uuid.UUID][]uuid.UUID
}

func NewStaticIdentityProvider() *StaticIdentityProvider {
	return &StaticIdentityProvider{
		users:     make(map[uuid.UUID]user.Info),
		companies: make(map[uuid.UUID][]uuid.UUID),
	}
}

// Put registers or replaces a user and reindexes its companies, so a user
// dropped from a company stops being listed as its member.
func (p *StaticIdentityProvider) Put(info user.Info) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[info.ID] = info
	for companyID, members := range p.companies {
		if !slices.Contains(info.CompanyIDs, companyID) {
			p.companies[companyID] = slices.DeleteFunc(members, func(id uuid.UUID) bool { return id == info.ID })
		}
	}
	for _, companyID := range info.CompanyIDs {
		if members := p.companies[companyID]; !slices.Contains(members, info.ID) {
			p.companies[companyID] = append(members, info.ID)
		}
	}
}

func (p *StaticIdentityProvider) GetUser(ctx context.Context, userID uuid.UUID) (user.Info, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info, ok := p.users[userID]
	if !ok {
		return user.Info{}, dealroom_errors.ErrNotFound
	}
	return info, nil
}

func (p *StaticIdentityProvider) CompanyMembers(ctx context.Context, companyID uuid.UUID) ([]uuid.UUID, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	members := p.companies[companyID]
	out := make([]uuid.UUID, len(members))
	copy(out, members)
	return out, nil
}

package database

import (
	"fmt"
	"log"

	"dealroom-chat/internal/domain/user"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

// SeedResult lists the identities created for local development.
type SeedResult struct {
	CompanyID uuid.UUID
	Company   []user.User
	Creators  []user.User
}

// SeedDevelopment creates a minimal copy of the profile tables with one
// company and a few creators. Production databases get these tables from the
// profile subsystem.
func SeedDevelopment(companyMembers, creators int) (*SeedResult, error) {
	if err := DB.AutoMigrate(&user.User{}, &user.CompanyUser{}); err != nil {
		return nil, fmt.Errorf("failed to migrate profile tables: %w", err)
	}

	result := &SeedResult{CompanyID: uuid.New()}

	for i := 0; i < companyMembers; i++ {
		u := user.User{ID: uuid.New(), DisplayName: fmt.Sprintf("Company Member %d", i+1)}
		if err := DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&u).Error; err != nil {
			return nil, fmt.Errorf("failed to seed company member: %w", err)
		}
		link := user.CompanyUser{CompanyID: result.CompanyID, UserID: u.ID, IsAdmin: i == 0}
		if err := DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
			return nil, fmt.Errorf("failed to link company member: %w", err)
		}
		result.Company = append(result.Company, u)
	}

	for i := 0; i < creators; i++ {
		u := user.User{ID: uuid.New(), DisplayName: fmt.Sprintf("Creator %d", i+1)}
		if err := DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&u).Error; err != nil {
			return nil, fmt.Errorf("failed to seed creator: %w", err)
		}
		result.Creators = append(result.Creators, u)
	}

	log.Printf("Seeded company %s with %d members and %d creators", result.CompanyID, companyMembers, creators)
	return result, nil
}

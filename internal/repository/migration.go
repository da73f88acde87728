package repository

import (
	"fmt"

	"dealroom-chat/internal/domain/contract"
	"dealroom-chat/internal/domain/message"
	"dealroom-chat/internal/domain/room"

	"gorm.io/gorm"
)

// InitSchema creates the messaging tables. The users and company_users tables
// belong to the profile subsystem and are only read here.
func InitSchema(db *gorm.DB) error {
	// 1. Enums
	enums := []string{
		`DO $$ BEGIN
			CREATE TYPE contract_status AS ENUM ('ProposedByCompany', 'AcceptedByCreator', 'WithdrawnByCompany', 'CancelledByCreator', 'FinishedByCreator', 'ApprovedByCompany');
		EXCEPTION
			WHEN duplicate_object THEN null;
		END $$;`,
	}

	for _, enum := range enums {
		if err := db.Exec(enum).Error; err != nil {
			return fmt.Errorf("failed to create enum: %w", err)
		}
	}

	// 2. AutoMigrate Tables
	if err := db.AutoMigrate(
		&room.Room{},
		&room.Sequence{},
		&room.LastSeen{},
		&message.Message{},
		&contract.Offer{},
		&contract.Transition{},
	); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}

	// 3. Indexes gorm tags cannot express
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_rooms_user ON rooms (user_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_author ON messages (room_id, author_id, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_contract_transitions_offer ON contract_transitions (offer_id, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_contract_offers_room ON contract_offers (room_id);`,
	}
	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// DropSchema removes every table InitSchema created.
func DropSchema(db *gorm.DB) error {
	return db.Migrator().DropTable(
		&contract.Transition{},
		&contract.Offer{},
		&message.Message{},
		&room.LastSeen{},
		&room.Sequence{},
		&room.Room{},
	)
}

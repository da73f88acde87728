package repository

import (
	"context"
	"time"

	"dealroom-chat/internal/domain/contract"
	"dealroom-chat/internal/domain/message"
	"dealroom-chat/internal/domain/room"
	dealroom_errors "dealroom-chat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresRoomStore struct {
	db *gorm.DB
}

func NewRoomStore(db *gorm.DB) RoomStore {
	return &PostgresRoomStore{db: db}
}

func (r *PostgresRoomStore) FindRoomByPair(ctx context.Context, companyID, userID uuid.UUID) (room.Room, error) {
	var rm room.Room
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND user_id = ?", companyID, userID).
		First(&rm).Error
	if err != nil {
		return room.Room{}, storeErr(err)
	}
	return rm, nil
}

func (r *PostgresRoomStore) CreateRoom(ctx context.Context, rm room.Room) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rm).Error; err != nil {
			return err
		}
		return tx.Create(&room.Sequence{RoomID: rm.ID, LastMessageID: 0, UpdatedAt: rm.CreatedAt}).Error
	})
	return storeErr(err)
}

func (r *PostgresRoomStore) GetRoom(ctx context.Context, roomID uuid.UUID) (room.Room, error) {
	var rm room.Room
	if err := r.db.WithContext(ctx).Where("id = ?", roomID).First(&rm).Error; err != nil {
		return room.Room{}, storeErr(err)
	}
	return rm, nil
}

func (r *PostgresRoomStore) ListUserRooms(ctx context.Context, userID uuid.UUID, companyIDs []uuid.UUID) ([]room.Room, error) {
	var rooms []room.Room

	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if len(companyIDs) > 0 {
		q = q.Or("company_id IN ?", companyIDs)
	}
	if err := q.Order("created_at DESC").Find(&rooms).Error; err != nil {
		return nil, storeErr(err)
	}
	return rooms, nil
}

// AppendMessage runs in a single transaction. The room_sequences row is
// locked first and the offer row second, so concurrent appends always take
// locks in the same order.
func (r *PostgresRoomStore) AppendMessage(ctx context.Context, in AppendInput) (AppendResult, error) {
	var result AppendResult
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seq room.Sequence
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("room_id = ?", in.RoomID).
			First(&seq).Error
		if err != nil {
			return err
		}

		nextID := seq.LastMessageID + 1
		msg := in.Draft.Build(in.RoomID, in.AuthorID, nextID, now)

		if change := in.Draft.Contract; change != nil {
			if change.Kind == contract.StatusProposedByCompany {
				offer := contract.Offer{
					RoomID:      in.RoomID,
					MessageID:   nextID,
					PayoutCents: change.PayoutCents,
					CreatedAt:   now,
				}
				if err := tx.Create(&offer).Error; err != nil {
					return err
				}
				msg.ContractOfferID = offer.ID
				result.Offer = &offer
			} else {
				var offer contract.Offer
				err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
					Where("id = ? AND room_id = ?", change.OfferID, in.RoomID).
					First(&offer).Error
				if err != nil {
					return err
				}

				var last contract.Transition
				current := contract.StatusNone
				err = tx.Where("offer_id = ?", offer.ID).Order("id DESC").Limit(1).Find(&last).Error
				if err != nil {
					return err
				}
				if last.ID != 0 {
					current = last.Kind
				}

				if in.Guard == nil {
					return dealroom_errors.ErrIllegalContractTransition
				}
				if err := in.Guard(offer, current); err != nil {
					return err
				}
				result.Offer = &offer
			}

			transition := contract.Transition{
				OfferID:   msg.ContractOfferID,
				RoomID:    in.RoomID,
				MessageID: nextID,
				Kind:      change.Kind,
				CreatedAt: now,
			}
			if err := tx.Create(&transition).Error; err != nil {
				return err
			}
			result.Transition = &transition
		}

		if err := tx.Create(&msg).Error; err != nil {
			return err
		}

		if msg.CampaignID.Valid {
			err := tx.Model(&room.Room{}).
				Where("id = ?", in.RoomID).
				Update("selected_campaign_id", msg.CampaignID).Error
			if err != nil {
				return err
			}
		}

		err = tx.Model(&room.Sequence{}).
			Where("room_id = ?", in.RoomID).
			Updates(map[string]interface{}{"last_message_id": nextID, "updated_at": now}).Error
		if err != nil {
			return err
		}

		result.Message = msg
		result.First = nextID == 1
		return nil
	})
	if err != nil {
		return AppendResult{}, storeErr(err)
	}
	return result, nil
}

func (r *PostgresRoomStore) ListMessages(ctx context.Context, roomID uuid.UUID, before int64, limit int) ([]message.Message, error) {
	var messages []message.Message
	q := r.db.WithContext(ctx).Where("room_id = ?", roomID)
	if before > 0 {
		q = q.Where("id < ?", before)
	}
	err := q.Order("id DESC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, storeErr(err)
	}
	return messages, nil
}

func (r *PostgresRoomStore) MaxMessageID(ctx context.Context, roomID uuid.UUID) (int64, error) {
	var seq room.Sequence
	if err := r.db.WithContext(ctx).Where("room_id = ?", roomID).First(&seq).Error; err != nil {
		return 0, storeErr(err)
	}
	return seq.LastMessageID, nil
}

func (r *PostgresRoomStore) LastActivity(ctx context.Context, roomID uuid.UUID) (map[uuid.UUID]int64, error) {
	type row struct {
		AuthorID uuid.UUID
		LastID   int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Select("author_id, MAX(id) AS last_id").
		Where("room_id = ?", roomID).
		Group("author_id").
		Scan(&rows).Error
	if err != nil {
		return nil, storeErr(err)
	}

	activity := make(map[uuid.UUID]int64, len(rows))
	for _, rw := range rows {
		activity[rw.AuthorID] = rw.LastID
	}
	return activity, nil
}

func (r *PostgresRoomStore) GetLastSeen(ctx context.Context, roomID, userID uuid.UUID) (int64, error) {
	var seen []room.LastSeen
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Limit(1).
		Find(&seen).Error
	if err != nil {
		return 0, storeErr(err)
	}
	if len(seen) == 0 {
		return 0, nil
	}
	return seen[0].LastMessageSeenID, nil
}

func (r *PostgresRoomStore) ListLastSeen(ctx context.Context, roomID uuid.UUID) ([]room.LastSeen, error) {
	var seen []room.LastSeen
	if err := r.db.WithContext(ctx).Where("room_id = ?", roomID).Find(&seen).Error; err != nil {
		return nil, storeErr(err)
	}
	return seen, nil
}

func (r *PostgresRoomStore) AdvanceLastSeen(ctx context.Context, roomID, userID uuid.UUID, seenTill int64) (bool, error) {
	changed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seq room.Sequence
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Where("room_id = ?", roomID).
			First(&seq).Error
		if err != nil {
			return err
		}
		if seenTill < 0 || seenTill > seq.LastMessageID {
			return dealroom_errors.ErrInvalidSeenID
		}

		var existing []room.LastSeen
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("room_id = ? AND user_id = ?", roomID, userID).
			Limit(1).
			Find(&existing).Error
		if err != nil {
			return err
		}

		current := int64(0)
		if len(existing) > 0 {
			current = existing[0].LastMessageSeenID
		}
		if seenTill < current {
			return dealroom_errors.ErrInvalidSeenID
		}
		if seenTill == current && len(existing) > 0 {
			return nil
		}

		// The conditional upsert keeps the watermark monotonic even when
		// two first-time writers race past the empty read above.
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_message_seen_id", "updated_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "room_last_seen.last_message_seen_id < excluded.last_message_seen_id"},
			}},
		}).Create(&room.LastSeen{
			RoomID:            roomID,
			UserID:            userID,
			LastMessageSeenID: seenTill,
			UpdatedAt:         time.Now().UTC(),
		})
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected > 0 && seenTill != current
		return nil
	})
	if err != nil {
		return false, storeErr(err)
	}
	return changed, nil
}

func (r *PostgresRoomStore) ListTransitions(ctx context.Context, offerID int64) ([]contract.Transition, error) {
	var transitions []contract.Transition
	err := r.db.WithContext(ctx).
		Where("offer_id = ?", offerID).
		Order("id ASC").
		Find(&transitions).Error
	if err != nil {
		return nil, storeErr(err)
	}
	return transitions, nil
}

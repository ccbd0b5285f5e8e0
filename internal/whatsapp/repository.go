package whatsapp

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/talkincode/wagate/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GormSlotRepository is the GORM implementation of SlotRepository
type GormSlotRepository struct {
	db *gorm.DB
}

// NewGormSlotRepository creates a new GORM-based repository
func NewGormSlotRepository(db *gorm.DB) *GormSlotRepository {
	return &GormSlotRepository{db: db}
}

// SaveSlot inserts the slot or updates its definition, keeping the stored status.
// Secret options are never written; they live in the credential store.
func (r *GormSlotRepository) SaveSlot(ctx context.Context, slot Slot) error {
	slot = slot.Public()
	opts, err := json.MarshalToString(slot.Options)
	if err != nil {
		return errors.Wrap(err, "encode slot options")
	}
	row := domain.WhatsAppSlot{
		ID:      slot.ID,
		Name:    slot.Name,
		Mode:    string(slot.Mode),
		Options: opts,
		Status:  string(StatusDisconnected),
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "mode", "options", "updated_at"}),
	}).Create(&row).Error
	return errors.Wrapf(err, "save slot %s", slot.ID)
}

// DeleteSlot removes a slot definition.
func (r *GormSlotRepository) DeleteSlot(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.WhatsAppSlot{}).Error
	return errors.Wrapf(err, "delete slot %s", id)
}

// ListSlots returns every stored slot ordered by id.
func (r *GormSlotRepository) ListSlots(ctx context.Context) ([]Slot, error) {
	var rows []domain.WhatsAppSlot
	if err := r.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list slots")
	}
	slots := make([]Slot, 0, len(rows))
	for _, row := range rows {
		slot := Slot{ID: row.ID, Name: row.Name, Mode: Mode(row.Mode)}
		if row.Options != "" {
			if err := json.UnmarshalFromString(row.Options, &slot.Options); err != nil {
				return nil, errors.Wrapf(err, "decode options of slot %s", row.ID)
			}
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

// SaveStatus records the latest status snapshot of a slot.
func (r *GormSlotRepository) SaveStatus(ctx context.Context, st SlotStatus) error {
	err := r.db.WithContext(ctx).Model(&domain.WhatsAppSlot{}).
		Where("id = ?", st.Slot.ID).
		Updates(map[string]interface{}{
			"status":     string(st.Status),
			"reason":     string(st.Reason),
			"status_at":  st.Since,
			"updated_at": time.Now(),
		}).Error
	return errors.Wrapf(err, "save status of slot %s", st.Slot.ID)
}

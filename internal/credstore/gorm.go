package credstore

import (
	"context"
	"errors"
	"time"

	perrors "github.com/pkg/errors"
	"github.com/talkincode/wagate/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps credential records in the whatsapp_credential table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Load(ctx context.Context, slotID string) ([]byte, error) {
	var row domain.WhatsAppCredential
	err := s.db.WithContext(ctx).Where("slot_id = ?", slotID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, perrors.Wrapf(err, "load credentials of %s", slotID)
	}
	return row.Data, nil
}

func (s *GormStore) Save(ctx context.Context, slotID string, creds []byte) error {
	row := domain.WhatsAppCredential{SlotID: slotID, Data: creds, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slot_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&row).Error
	return perrors.Wrapf(err, "save credentials of %s", slotID)
}

func (s *GormStore) Delete(ctx context.Context, slotID string) error {
	err := s.db.WithContext(ctx).Where("slot_id = ?", slotID).Delete(&domain.WhatsAppCredential{}).Error
	return perrors.Wrapf(err, "delete credentials of %s", slotID)
}

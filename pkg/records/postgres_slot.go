package records

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SlotModel is one named slot row.
type SlotModel struct {
	Name      string         `gorm:"primaryKey;column:name"`
	Payload   datatypes.JSON `gorm:"column:payload;type:jsonb"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

func (SlotModel) TableName() string {
	return "record_slots"
}

// PostgresSlot keeps the collection in a row of record_slots.
type PostgresSlot struct {
	db   *gorm.DB
	name string
}

func NewPostgresSlot(db *gorm.DB, name string) *PostgresSlot {
	return &PostgresSlot{db: db, name: name}
}

func (p *PostgresSlot) AutoMigrate() error {
	return p.db.AutoMigrate(&SlotModel{})
}

func (p *PostgresSlot) Load(ctx context.Context) ([]byte, error) {
	var row SlotModel
	err := p.db.WithContext(ctx).First(&row, "name = ?", p.name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(row.Payload), nil
}

func (p *PostgresSlot) Save(ctx context.Context, data []byte) error {
	row := SlotModel{
		Name:      p.name,
		Payload:   datatypes.JSON(data),
		UpdatedAt: time.Now().UTC(),
	}
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&row).Error
}

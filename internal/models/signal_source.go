package models

import (
	"time"

	"gorm.io/datatypes"
)

// SignalSource is the registry row for one vote source. Inactive sources'
// votes are dropped by the consensus engine.
type SignalSource struct {
	ID     uint64  `gorm:"primaryKey;autoIncrement"`
	Name   string  `gorm:"type:varchar(50);not null;uniqueIndex"`
	Kind   string  `gorm:"type:varchar(30);not null"`
	Weight float64 `gorm:"not null;default:1"`
	Active bool    `gorm:"not null;default:true"`

	LastRunAt    *time.Time     `gorm:"type:timestamptz"`
	LastError    *string        `gorm:"type:text"`
	HealthStatus string         `gorm:"type:varchar(20);not null;default:'unknown'"`
	Config       datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (SignalSource) TableName() string {
	return "signal_sources"
}

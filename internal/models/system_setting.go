package models

import (
	"time"

	"gorm.io/datatypes"
)

// SystemSetting is one runtime switch, keyed by name. Value holds JSON so a
// switch can later grow beyond a bool without a migration.
type SystemSetting struct {
	Key         string         `gorm:"type:varchar(120);primaryKey"`
	Value       datatypes.JSON `gorm:"type:jsonb;not null"`
	Description string         `gorm:"type:text"`
	UpdatedBy   string         `gorm:"type:varchar(120)"`
	CreatedAt   time.Time      `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"type:timestamptz;autoUpdateTime;index"`
}

func (SystemSetting) TableName() string { return "system_settings" }

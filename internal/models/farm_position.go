package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	FarmStatusPlanted   = "planted"
	FarmStatusWorked    = "worked"
	FarmStatusHarvested = "harvested"
	FarmStatusSettled   = "settled"
)

type FarmPosition struct {
	ID      string          `gorm:"type:varchar(36);primaryKey"`
	UserID  string          `gorm:"type:varchar(100);not null;index"`
	CycleID int64           `gorm:"not null;index"`
	Stake   decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Status  string          `gorm:"type:varchar(20);not null;default:'planted';index"`
	// CareSteps counts work/harvest actions taken before settlement.
	CareSteps int `gorm:"not null;default:0"`

	BaseReward      *decimal.Decimal `gorm:"type:numeric(30,10)"`
	WeatherModifier *float64         `gorm:"type:double precision"`
	FinalReward     *decimal.Decimal `gorm:"type:numeric(30,10)"`

	PlantedAt time.Time `gorm:"type:timestamptz;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (FarmPosition) TableName() string {
	return "farm_positions"
}

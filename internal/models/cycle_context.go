package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// CycleContext is frozen at WORKING entry: location, real-weather reading and
// the wager pool snapshot the influence score is derived from.
type CycleContext struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	CycleID  int64  `gorm:"not null;uniqueIndex"`
	Location string `gorm:"type:varchar(100)"`

	WeatherScore   *float64       `gorm:"type:double precision"`
	WeatherSource  string         `gorm:"type:varchar(100)"`
	WeatherDetails datatypes.JSON `gorm:"type:jsonb"`

	GoodStakes decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	BadStakes  decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	FrozenAtBlock int64     `gorm:"not null"`
	CreatedAt     time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (CycleContext) TableName() string {
	return "cycle_contexts"
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WagerPosition is immutable after placement except Payout.
type WagerPosition struct {
	ID        string          `gorm:"type:varchar(36);primaryKey"`
	UserID    string          `gorm:"type:varchar(100);not null;index"`
	CycleID   int64           `gorm:"not null;index"`
	Direction string          `gorm:"type:varchar(10);not null"`
	Stake     decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	Payout    *decimal.Decimal `gorm:"type:numeric(30,10)"`
	PlacedAt  time.Time        `gorm:"type:timestamptz;not null"`
	CreatedAt time.Time        `gorm:"type:timestamptz;autoCreateTime"`
}

func (WagerPosition) TableName() string {
	return "wager_positions"
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SettlementRecord marks a cycle as paid out. The unique cycle_id index is the
// double-payout barrier.
type SettlementRecord struct {
	ID                uint64          `gorm:"primaryKey;autoIncrement"`
	CycleID           int64           `gorm:"not null;uniqueIndex"`
	Outcome           string          `gorm:"type:varchar(10);not null"`
	TotalPool         decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	TotalWinningStake decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	TotalPaid         decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	TotalFarmRewards  decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	NoWinnerPolicy    string          `gorm:"type:varchar(10)"`
	Winners           int             `gorm:"not null;default:0"`
	Summary           datatypes.JSON  `gorm:"type:jsonb"`

	SettledAt time.Time `gorm:"type:timestamptz;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (SettlementRecord) TableName() string {
	return "settlement_records"
}

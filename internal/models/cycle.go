package models

import "time"

const (
	CycleStatusActive       = "active"
	CycleStatusResolved     = "resolved"
	CycleStatusDegraded     = "degraded"
	CycleStatusManualReview = "manual_review"
	CycleStatusSettled      = "settled"
	CycleStatusUnresolved   = "unresolved"
)

// Cycle is one fixed-length resolution period. Phase is never stored: it is
// always recomputed from the block height.
type Cycle struct {
	ID         int64 `gorm:"primaryKey;autoIncrement:false"`
	StartBlock int64 `gorm:"not null;index"`
	EndBlock   int64 `gorm:"not null;index"`

	Status string `gorm:"type:varchar(20);not null;default:'active';index"`
	// SeedCommitment is sha256(seed) published at cycle start; the seed
	// itself stays in cycle_seeds until REVEALING.
	SeedCommitment string `gorm:"type:varchar(64)"`
	StatusReason   string `gorm:"type:text"`

	SettledAt *time.Time `gorm:"type:timestamptz"`
	CreatedAt time.Time  `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time  `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Cycle) TableName() string {
	return "cycles"
}

// CycleSeed holds the tie-break entropy for a cycle.
type CycleSeed struct {
	ID         uint64     `gorm:"primaryKey;autoIncrement"`
	CycleID    int64      `gorm:"not null;uniqueIndex"`
	Seed       string     `gorm:"type:varchar(128);not null"`
	Commitment string     `gorm:"type:varchar(64);not null"`
	RevealedAt *time.Time `gorm:"type:timestamptz"`
	CreatedAt  time.Time  `gorm:"type:timestamptz;autoCreateTime"`
}

func (CycleSeed) TableName() string {
	return "cycle_seeds"
}

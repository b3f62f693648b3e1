package models

import (
	"time"

	"gorm.io/datatypes"
)

// ConsensusRecord is the stored ConsensusEngine output; immutable once written.
type ConsensusRecord struct {
	ID              uint64         `gorm:"primaryKey;autoIncrement"`
	CycleID         int64          `gorm:"not null;uniqueIndex"`
	ConsensusScore  float64        `gorm:"not null"`
	Outcome         string         `gorm:"type:varchar(10);not null"`
	TieBreakApplied bool           `gorm:"not null;default:false"`
	ValidVotes      int            `gorm:"not null"`
	DroppedVotes    int            `gorm:"not null;default:0"`
	Votes           datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (ConsensusRecord) TableName() string {
	return "consensus_records"
}

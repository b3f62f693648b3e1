package models

import "time"

// Vote is one signal source's prediction for a cycle.
type Vote struct {
	ID         uint64  `gorm:"primaryKey;autoIncrement"`
	CycleID    int64   `gorm:"not null;uniqueIndex:ux_votes_cycle_source"`
	SourceID   string  `gorm:"type:varchar(50);not null;uniqueIndex:ux_votes_cycle_source"`
	Prediction string  `gorm:"type:varchar(10);not null"`
	Confidence float64 `gorm:"not null"`
	Reasoning  string  `gorm:"type:text"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (Vote) TableName() string {
	return "votes"
}

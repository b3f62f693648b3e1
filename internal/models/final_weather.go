package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	CalculationStatusResolved = "resolved"
	CalculationStatusDegraded = "degraded"
)

// FinalWeatherCalculation is computed exactly once per cycle and read-only afterwards.
//
// ScoreFraction is finalScore/100. It is exposed as "confidence" for API
// compatibility but carries no statistical meaning.
type FinalWeatherCalculation struct {
	ID             uint64         `gorm:"primaryKey;autoIncrement"`
	CycleID        int64          `gorm:"not null;uniqueIndex"`
	FinalScore     float64        `gorm:"not null"`
	Outcome        string         `gorm:"type:varchar(10);not null"`
	ScoreFraction  float64        `gorm:"column:confidence;not null"`
	FormulaVariant string         `gorm:"type:varchar(30);not null"`
	Status         string         `gorm:"type:varchar(20);not null;index"`
	Breakdown      datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (FinalWeatherCalculation) TableName() string {
	return "final_weather_calculations"
}

package db

import (
	"context"

	"agrocycle/internal/models"
)

// Models lists every table the service owns, in creation order.
func Models() []any {
	return []any{
		&models.Cycle{},
		&models.CycleSeed{},
		&models.CycleContext{},
		&models.Vote{},
		&models.ConsensusRecord{},
		&models.FinalWeatherCalculation{},
		&models.WagerPosition{},
		&models.FarmPosition{},
		&models.SettlementRecord{},
		&models.SignalSource{},
		&models.SystemSetting{},
	}
}

func AutoMigrate(ctx context.Context, db *DB) error {
	if db == nil || db.Gorm == nil {
		return nil
	}
	return db.Gorm.WithContext(ctx).AutoMigrate(Models()...)
}

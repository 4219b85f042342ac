package storage

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sentrylabs/modelsentry/internal/config"
)

// Open establishes the gorm/Postgres connection and tunes the pool,
// following the teacher's internal/database.NewPostgresDB shape.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("retrieving sql.DB handle: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifeSecs) * time.Second)
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)

	return db, nil
}

// AutoMigrate creates/updates the tables for E2-E6, the partial unique
// index enforcing at most one Production row per model_name (§3
// invariant 1), and the foreign key enforcing invariant 2 (every label
// references a prediction that already exists). Neither can be
// expressed through gorm struct tags directly: the partial index needs
// a WHERE clause, and the FK would otherwise require LabelRow to carry
// a belongs-to association field it has no other use for.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&PredictionRow{},
		&LabelRow{},
		&MonitoringMetricRow{},
		&RetrainingDecisionRow{},
		&ModelVersionRow{},
	); err != nil {
		return fmt.Errorf("auto-migrating schema: %w", err)
	}

	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS one_production_per_model
		ON model_versions (model_name)
		WHERE stage = 'Production'
	`).Error; err != nil {
		return fmt.Errorf("creating one_production_per_model index: %w", err)
	}

	return db.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM pg_constraint WHERE conname = 'labels_prediction_id_fkey'
			) THEN
				ALTER TABLE labels
					ADD CONSTRAINT labels_prediction_id_fkey
					FOREIGN KEY (prediction_id) REFERENCES predictions (prediction_id)
					ON DELETE RESTRICT;
			END IF;
		END $$;
	`).Error
}

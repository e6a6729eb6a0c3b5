package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pulseboard/pulseboard/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init() error {
	dbPath := config.Cfg.DatabasePath
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(
		&Project{},
		&Issue{},
		&Repository{},
		&PullRequest{},
		&DeadLetterEvent{},
		&AiUsageRecord{},
		&AdminNotification{},
		&WebhookDelivery{},
		&RateLimitState{},
		&ModelPricing{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	if err := seedPricing(); err != nil {
		return fmt.Errorf("seed pricing: %w", err)
	}

	if err := applyPricingOverrides(); err != nil {
		return fmt.Errorf("apply pricing overrides: %w", err)
	}

	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// seedPricing populates the pricing table on first boot. Rates are USD per 1M
// tokens.
func seedPricing() error {
	var count int64
	DB.Model(&ModelPricing{}).Count(&count)
	if count > 0 {
		return nil
	}

	pricing := []ModelPricing{
		{ModelPattern: "claude-opus-4", InputPerMillion: 15, OutputPerMillion: 75},
		{ModelPattern: "claude-sonnet-4", InputPerMillion: 3, OutputPerMillion: 15},
		{ModelPattern: "claude-haiku-4", InputPerMillion: 0.8, OutputPerMillion: 4},
		{ModelPattern: "claude-3-5-sonnet", InputPerMillion: 3, OutputPerMillion: 15},
		{ModelPattern: "claude-3-5-haiku", InputPerMillion: 0.8, OutputPerMillion: 4},
		{ModelPattern: "gpt-4o", InputPerMillion: 2.5, OutputPerMillion: 10},
		{ModelPattern: "gpt-4o-mini", InputPerMillion: 0.15, OutputPerMillion: 0.6},
		{ModelPattern: "gpt-4-turbo", InputPerMillion: 10, OutputPerMillion: 30},
		{ModelPattern: "o1", InputPerMillion: 15, OutputPerMillion: 60},
		{ModelPattern: "o1-mini", InputPerMillion: 3, OutputPerMillion: 12},
		{ModelPattern: "gemini-2.0-flash", InputPerMillion: 0.075, OutputPerMillion: 0.3},
		{ModelPattern: "gemini-1.5-pro", InputPerMillion: 1.25, OutputPerMillion: 5},
	}

	for _, p := range pricing {
		if err := DB.Create(&p).Error; err != nil {
			return fmt.Errorf("seed pricing %s: %w", p.ModelPattern, err)
		}
	}
	return nil
}

// applyPricingOverrides upserts rates from the optional PRICING_PATH file over
// the seeded defaults.
func applyPricingOverrides() error {
	overrides, err := config.LoadPricingOverrides(config.Cfg.PricingPath)
	if err != nil {
		return err
	}

	for _, o := range overrides {
		err := DB.Where("model_pattern = ?", o.Model).
			Assign(ModelPricing{InputPerMillion: o.InputPerMillion, OutputPerMillion: o.OutputPerMillion}).
			FirstOrCreate(&ModelPricing{ModelPattern: o.Model}).Error
		if err != nil {
			return fmt.Errorf("override pricing %s: %w", o.Model, err)
		}
	}
	return nil
}

package repository

import (
	"context"
	"time"

	"thermowatch/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReadingRepository interface {
	Upsert(ctx context.Context, readings []models.Reading) (int64, error)
	GetByDateRange(ctx context.Context, from, to time.Time, limit int) ([]models.Reading, error)
	GetLatest(ctx context.Context, limit int) ([]models.Reading, error)
	GetStats(ctx context.Context, from, to time.Time) (*ReadingStats, error)
	Count(ctx context.Context) (int64, error)
	DeleteOld(ctx context.Context, olderThan time.Time) (int64, error)
}

type ReadingStats struct {
	Count          int64   `json:"count"`
	AvgTemperature float64 `json:"avg_temperature"`
	AvgHumidity    float64 `json:"avg_humidity"`
	MinTemperature float64 `json:"min_temperature"`
	MaxTemperature float64 `json:"max_temperature"`
	MinHumidity    float64 `json:"min_humidity"`
	MaxHumidity    float64 `json:"max_humidity"`
}

type readingRepository struct {
	db *gorm.DB
}

func NewReadingRepository(db *gorm.DB) ReadingRepository {
	return &readingRepository{db: db}
}

// Upsert archives readings by remote id. Rows already archived are left
// untouched; the returned count is the number of newly inserted rows.
func (r *readingRepository) Upsert(ctx context.Context, readings []models.Reading) (int64, error) {
	if len(readings) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(readings, 100)
	return res.RowsAffected, res.Error
}

func (r *readingRepository) GetByDateRange(ctx context.Context, from, to time.Time, limit int) ([]models.Reading, error) {
	if limit < 1 || limit > 1000 {
		limit = 100
	}

	var readings []models.Reading
	err := r.db.WithContext(ctx).
		Where("recorded_at BETWEEN ? AND ?", from, to).
		Order("recorded_at DESC").
		Limit(limit).
		Find(&readings).
		Error
	return readings, err
}

func (r *readingRepository) GetLatest(ctx context.Context, limit int) ([]models.Reading, error) {
	if limit < 1 || limit > 1000 {
		limit = 100
	}

	var readings []models.Reading
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&readings).
		Error
	return readings, err
}

func (r *readingRepository) GetStats(ctx context.Context, from, to time.Time) (*ReadingStats, error) {
	var stats ReadingStats

	err := r.db.WithContext(ctx).
		Model(&models.Reading{}).
		Where("recorded_at BETWEEN ? AND ?", from, to).
		Count(&stats.Count).
		Error
	if err != nil {
		return nil, err
	}

	if stats.Count == 0 {
		return &stats, nil
	}

	row := r.db.WithContext(ctx).
		Model(&models.Reading{}).
		Select("AVG(temperature), AVG(humidity), "+
			"MIN(temperature), MAX(temperature), "+
			"MIN(humidity), MAX(humidity)").
		Where("recorded_at BETWEEN ? AND ?", from, to).
		Row()

	err = row.Scan(&stats.AvgTemperature, &stats.AvgHumidity,
		&stats.MinTemperature, &stats.MaxTemperature,
		&stats.MinHumidity, &stats.MaxHumidity)
	if err != nil {
		return nil, err
	}

	return &stats, nil
}

func (r *readingRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Reading{}).
		Count(&count).
		Error
	return count, err
}

func (r *readingRepository) DeleteOld(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("recorded_at < ?", olderThan).
		Delete(&models.Reading{})
	return res.RowsAffected, res.Error
}

package repository

import (
	"context"
	"time"

	"thermowatch/internal/models"

	"gorm.io/gorm"
)

type PollLogRepository interface {
	Create(ctx context.Context, log *models.PollLog) error
	GetLast(ctx context.Context) (*models.PollLog, error)
	GetLastN(ctx context.Context, n int) ([]*models.PollLog, error)
	CountSince(ctx context.Context, since time.Time, success bool) (int64, error)
	Count(ctx context.Context) (int64, error)
	DeleteOld(ctx context.Context, olderThan time.Time) (int64, error)
}

type pollLogRepository struct {
	db *gorm.DB
}

func NewPollLogRepository(db *gorm.DB) PollLogRepository {
	return &pollLogRepository{db: db}
}

func (r *pollLogRepository) Create(ctx context.Context, log *models.PollLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *pollLogRepository) GetLast(ctx context.Context) (*models.PollLog, error) {
	var log models.PollLog
	err := r.db.WithContext(ctx).
		Order("fetched_at DESC, id DESC").
		First(&log).
		Error
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *pollLogRepository) GetLastN(ctx context.Context, n int) ([]*models.PollLog, error) {
	var logs []*models.PollLog
	err := r.db.WithContext(ctx).
		Order("fetched_at DESC, id DESC").
		Limit(n).
		Find(&logs).
		Error
	return logs, err
}

func (r *pollLogRepository) CountSince(ctx context.Context, since time.Time, success bool) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PollLog{}).
		Where("fetched_at >= ? AND success = ?", since, success).
		Count(&count).
		Error
	return count, err
}

func (r *pollLogRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PollLog{}).
		Count(&count).
		Error
	return count, err
}

func (r *pollLogRepository) DeleteOld(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("fetched_at < ?", olderThan).
		Delete(&models.PollLog{})
	return res.RowsAffected, res.Error
}

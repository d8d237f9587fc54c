package session

import (
	"context"
	"time"

	"github.com/finbot/pkg/entities"
	"github.com/finbot/pkg/utils"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, session entities.Session) error
	FindBySessionID(ctx context.Context, sessionID string) (entities.Session, error)
	FindActive(ctx context.Context) ([]entities.Session, error)
	List(ctx context.Context) ([]entities.Session, error)
	ListPage(ctx context.Context, page int) ([]entities.Session, int, error)
	UpdateStatus(ctx context.Context, sessionID string, status entities.Status) error
	SetActive(ctx context.Context, sessionID string, active bool) error
	UpdateLastSeen(ctx context.Context, sessionID string) error
	Delete(ctx context.Context, sessionID string) error
	CountByStatus(ctx context.Context) (map[entities.Status]int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) Repository {
	return &repository{
		db: db,
	}
}

func (r *repository) Create(ctx context.Context, session entities.Session) error {
	return r.db.WithContext(ctx).Create(&session).Error
}

func (r *repository) FindBySessionID(ctx context.Context, sessionID string) (entities.Session, error) {
	var session entities.Session
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error
	return session, err
}

func (r *repository) FindActive(ctx context.Context) ([]entities.Session, error) {
	var sessions []entities.Session
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Find(&sessions).Error
	return sessions, err
}

func (r *repository) List(ctx context.Context) ([]entities.Session, error) {
	var sessions []entities.Session
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&sessions).Error
	return sessions, err
}

func (r *repository) ListPage(ctx context.Context, page int) ([]entities.Session, int, error) {
	var sessions []entities.Session
	totalPages, err := utils.Pagination(&sessions, page, r.db, ctx, "1 = 1")
	if err != nil {
		return nil, 0, err
	}
	return sessions, totalPages, nil
}

func (r *repository) UpdateStatus(ctx context.Context, sessionID string, status entities.Status) error {
	return r.db.WithContext(ctx).Model(&entities.Session{}).
		Where("session_id = ?", sessionID).
		Update("status", status).Error
}

func (r *repository) SetActive(ctx context.Context, sessionID string, active bool) error {
	return r.db.WithContext(ctx).Model(&entities.Session{}).
		Where("session_id = ?", sessionID).
		Update("is_active", active).Error
}

func (r *repository) UpdateLastSeen(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Model(&entities.Session{}).
		Where("session_id = ?", sessionID).
		Update("last_seen", time.Now()).Error
}

func (r *repository) Delete(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Delete(&entities.Session{}).Error
}

func (r *repository) CountByStatus(ctx context.Context) (map[entities.Status]int64, error) {
	type row struct {
		Status entities.Status
		Count  int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&entities.Session{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[entities.Status]int64, len(rows))
	for _, rw := range rows {
		counts[rw.Status] = rw.Count
	}
	return counts, nil
}

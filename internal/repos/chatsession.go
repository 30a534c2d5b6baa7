package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartmed/analyser-backend/internal/logger"
	"github.com/smartmed/analyser-backend/internal/types"
)

type ChatSessionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, sessions []*types.ChatSession) ([]*types.ChatSession, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ChatSession, error)
	GetByUserAndReport(ctx context.Context, tx *gorm.DB, userID uuid.UUID, reportID uuid.UUID) (*types.ChatSession, error)
	ListByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.ChatSession, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error
}

type chatSessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatSessionRepo(db *gorm.DB, baseLog *logger.Logger) ChatSessionRepo {
	repoLog := baseLog.With("repo", "ChatSessionRepo")
	return &chatSessionRepo{db: db, log: repoLog}
}

func (r *chatSessionRepo) Create(ctx context.Context, tx *gorm.DB, sessions []*types.ChatSession) ([]*types.ChatSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(sessions) == 0 {
		return []*types.ChatSession{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *chatSessionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ChatSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var session types.ChatSession
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&session).Error
	if err != nil {
		return nil, err
	}
	if session.ID == uuid.Nil {
		return nil, nil
	}
	return &session, nil
}

func (r *chatSessionRepo) GetByUserAndReport(ctx context.Context, tx *gorm.DB, userID uuid.UUID, reportID uuid.UUID) (*types.ChatSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil || reportID == uuid.Nil {
		return nil, nil
	}
	var session types.ChatSession
	err := transaction.WithContext(ctx).
		Where("user_id = ? AND report_id = ?", userID, reportID).
		Limit(1).
		Find(&session).Error
	if err != nil {
		return nil, err
	}
	if session.ID == uuid.Nil {
		return nil, nil
	}
	return &session, nil
}

func (r *chatSessionRepo) ListByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.ChatSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.ChatSession
	if userID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *chatSessionRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.ChatSession{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *chatSessionRepo) DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&types.ChatSession{}).Error
}

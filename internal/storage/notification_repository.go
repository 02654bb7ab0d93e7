package storage

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"donor-finder/internal/models"
)

// ErrDuplicateNotification is returned when a notification with the same dedup key exists.
var ErrDuplicateNotification = errors.New("duplicate notification")

// NotificationRepository defines the interface for notification data operations.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	GetByDedupKey(ctx context.Context, key string) (*models.Notification, error)
	GetWithSender(ctx context.Context, id uint) (*models.Notification, error)
	ListForRecipient(ctx context.Context, recipientID uint, limit int) ([]models.Notification, error)
	CountUnread(ctx context.Context, recipientID uint) (int64, error)
	MarkRead(ctx context.Context, id, recipientID uint) (*models.Notification, error)
	MarkAllRead(ctx context.Context, recipientID uint) (int64, error)
	Delete(ctx context.Context, id, recipientID uint) error
}

type gormNotificationRepository struct {
	db *gorm.DB
}

func NewGormNotificationRepository(db *gorm.DB) NotificationRepository {
	return &gormNotificationRepository{db: db}
}

// Create inserts n. A dedup-key collision yields ErrDuplicateNotification.
func (r *gormNotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	err := r.db.WithContext(ctx).Create(n).Error
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateNotification
	}
	return err
}

func (r *gormNotificationRepository) GetByDedupKey(ctx context.Context, key string) (*models.Notification, error) {
	var n models.Notification
	err := r.db.WithContext(ctx).Preload("Sender").Where("dedup_key = ?", key).First(&n).Error
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *gormNotificationRepository) GetWithSender(ctx context.Context, id uint) (*models.Notification, error) {
	var n models.Notification
	if err := r.db.WithContext(ctx).Preload("Sender").First(&n, id).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

// ListForRecipient returns newest-first, capped at limit.
func (r *gormNotificationRepository) ListForRecipient(ctx context.Context, recipientID uint, limit int) ([]models.Notification, error) {
	notifications := []models.Notification{}
	err := r.db.WithContext(ctx).
		Preload("Sender").
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&notifications).Error
	return notifications, err
}

func (r *gormNotificationRepository) CountUnread(ctx context.Context, recipientID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND read = ?", recipientID, false).
		Count(&count).Error
	return count, err
}

// MarkRead is scoped to the recipient; gorm.ErrRecordNotFound for foreign or missing rows.
func (r *gormNotificationRepository) MarkRead(ctx context.Context, id, recipientID uint) (*models.Notification, error) {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Update("read", true)
	if res.Error != nil {
		return nil, res.Error
	}
	var n models.Notification
	err := r.db.WithContext(ctx).Preload("Sender").
		Where("id = ? AND recipient_id = ?", id, recipientID).
		First(&n).Error
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *gormNotificationRepository) MarkAllRead(ctx context.Context, recipientID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND read = ?", recipientID, false).
		Update("read", true)
	return res.RowsAffected, res.Error
}

// Delete hard-deletes a notification owned by recipientID.
func (r *gormNotificationRepository) Delete(ctx context.Context, id, recipientID uint) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Delete(&models.Notification{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

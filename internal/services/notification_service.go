package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"donor-finder/internal/events"
	"donor-finder/internal/metrics"
	"donor-finder/internal/models"
	"donor-finder/internal/storage"
	"donor-finder/internal/wstypes"
)

// Pusher delivers a realtime event to a connected user and reports whether it did.
type Pusher interface {
	Push(userID uint, event string, payload interface{}) bool
}

// NotifyInput describes one notification to persist and push.
type NotifyInput struct {
	RecipientID uint
	SenderID    uint
	Type        models.NotificationType
	Message     string
	RequestID   *uint
	// DedupKey makes the call idempotent when set.
	DedupKey string
}

// NotificationService persists notifications and pushes them to online recipients.
type NotificationService interface {
	Notify(ctx context.Context, in NotifyInput) (*models.NotificationView, error)
	HandleRequestEvent(ctx context.Context, event events.RequestEvent) error
	List(ctx context.Context, userID uint) ([]models.NotificationView, error)
	UnreadCount(ctx context.Context, userID uint) (int64, error)
	MarkRead(ctx context.Context, userID, notificationID uint) (*models.NotificationView, error)
	MarkAllRead(ctx context.Context, userID uint) (int64, error)
	Delete(ctx context.Context, userID, notificationID uint) error
}

type notificationService struct {
	notificationRepo storage.NotificationRepository
	userRepo         storage.UserRepository
	pusher           Pusher
	listLimit        int
	logger           *zap.Logger
	metrics          *metrics.Metrics
}

// NewNotificationService creates a NotificationService.
func NewNotificationService(
	notificationRepo storage.NotificationRepository,
	userRepo storage.UserRepository,
	pusher Pusher,
	listLimit int,
	logger *zap.Logger,
	m *metrics.Metrics,
) NotificationService {
	if listLimit <= 0 {
		listLimit = 50
	}
	return &notificationService{
		notificationRepo: notificationRepo,
		userRepo:         userRepo,
		pusher:           pusher,
		listLimit:        listLimit,
		logger:           logger,
		metrics:          m,
	}
}

// Notify persists the notification, then tries a realtime push. A recipient being
// offline is not an error: the row stays unread until polled.
func (s *notificationService) Notify(ctx context.Context, in NotifyInput) (*models.NotificationView, error) {
	n := &models.Notification{
		RecipientID: in.RecipientID,
		SenderID:    in.SenderID,
		Type:        in.Type,
		Message:     in.Message,
		RequestID:   in.RequestID,
	}
	if in.DedupKey != "" {
		key := in.DedupKey
		n.DedupKey = &key
	}

	if err := s.notificationRepo.Create(ctx, n); err != nil {
		if errors.Is(err, storage.ErrDuplicateNotification) {
			s.logger.Debug("通知已存在，跳过", zap.String("dedupKey", in.DedupKey))
			existing, getErr := s.notificationRepo.GetByDedupKey(ctx, in.DedupKey)
			if getErr != nil {
				return nil, fmt.Errorf("读取已存在的通知失败: %w", getErr)
			}
			view := models.NewNotificationView(*existing)
			return &view, nil
		}
		return nil, fmt.Errorf("创建通知失败: %w", err)
	}
	s.metrics.IncNotificationCreated(string(n.Type))

	stored, err := s.notificationRepo.GetWithSender(ctx, n.ID)
	if err != nil {
		// persisted but not reloadable; push the bare row
		s.logger.Warn("重新加载通知失败", zap.Uint("notificationID", n.ID), zap.Error(err))
		stored = n
	}
	view := models.NewNotificationView(*stored)

	if s.pusher.Push(in.RecipientID, wstypes.EventNewNotification, view) {
		s.logger.Debug("通知已实时推送", zap.Uint("recipientID", in.RecipientID), zap.Uint("notificationID", n.ID))
	} else {
		s.logger.Info("接收者不在线，通知等待轮询", zap.Uint("recipientID", in.RecipientID), zap.Uint("notificationID", n.ID))
	}
	return &view, nil
}

// HandleRequestEvent creates the notification for one lifecycle step. Safe to call
// repeatedly for the same event.
func (s *notificationService) HandleRequestEvent(ctx context.Context, event events.RequestEvent) error {
	var recipientID, senderID uint
	switch event.Kind {
	case models.NotificationRequestSent:
		recipientID, senderID = event.DonorID, event.PatientID
	case models.NotificationRequestAccepted, models.NotificationRequestRejected:
		recipientID, senderID = event.PatientID, event.DonorID
	default:
		s.logger.Warn("忽略未知类型的请求事件", zap.String("kind", string(event.Kind)))
		return nil
	}

	dedupKey := event.DedupKey()
	if _, err := s.notificationRepo.GetByDedupKey(ctx, dedupKey); err == nil {
		return nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("检查通知去重键失败: %w", err)
	}

	senderName := "Someone"
	sender, err := s.userRepo.GetByID(ctx, senderID)
	switch {
	case err == nil:
		senderName = sender.Name
	case errors.Is(err, gorm.ErrRecordNotFound):
		s.logger.Warn("事件发送者不存在", zap.Uint("senderID", senderID))
	default:
		return fmt.Errorf("加载发送者 %d 失败: %w", senderID, err)
	}

	requestID := event.RequestID
	_, err = s.Notify(ctx, NotifyInput{
		RecipientID: recipientID,
		SenderID:    senderID,
		Type:        event.Kind,
		Message:     notificationMessage(event, senderName),
		RequestID:   &requestID,
		DedupKey:    dedupKey,
	})
	return err
}

func notificationMessage(event events.RequestEvent, senderName string) string {
	switch event.Kind {
	case models.NotificationRequestSent:
		msg := fmt.Sprintf("%s sent you a blood request for %s", senderName, event.BloodGroup)
		if event.Message != "" {
			msg += ": " + event.Message
		}
		return msg
	case models.NotificationRequestAccepted:
		return fmt.Sprintf("%s accepted your blood request", senderName)
	case models.NotificationRequestRejected:
		return fmt.Sprintf("%s declined your blood request", senderName)
	}
	return string(event.Kind)
}

// List returns the newest notifications for userID.
func (s *notificationService) List(ctx context.Context, userID uint) ([]models.NotificationView, error) {
	rows, err := s.notificationRepo.ListForRecipient(ctx, userID, s.listLimit)
	if err != nil {
		return nil, fmt.Errorf("查询通知失败: %w", err)
	}
	views := make([]models.NotificationView, 0, len(rows))
	for _, n := range rows {
		views = append(views, models.NewNotificationView(n))
	}
	return views, nil
}

func (s *notificationService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	count, err := s.notificationRepo.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("统计未读通知失败: %w", err)
	}
	return count, nil
}

// MarkRead marks one of the user's notifications read. Idempotent.
func (s *notificationService) MarkRead(ctx context.Context, userID, notificationID uint) (*models.NotificationView, error) {
	n, err := s.notificationRepo.MarkRead(ctx, notificationID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("标记通知已读失败: %w", err)
	}
	view := models.NewNotificationView(*n)
	return &view, nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	n, err := s.notificationRepo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("标记全部通知已读失败: %w", err)
	}
	return n, nil
}

// Delete removes one of the user's notifications.
func (s *notificationService) Delete(ctx context.Context, userID, notificationID uint) error {
	if err := s.notificationRepo.Delete(ctx, notificationID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotificationNotFound
		}
		return fmt.Errorf("删除通知失败: %w", err)
	}
	return nil
}

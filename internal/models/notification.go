package models

import "fmt"

// NotificationType 通知类型
type NotificationType string

const (
	NotificationRequestSent     NotificationType = "request_sent"
	NotificationRequestAccepted NotificationType = "request_accepted"
	NotificationRequestRejected NotificationType = "request_rejected"
)

// NotificationTypeForStatus maps a request status onto the notification sent to the patient.
// Pending has no patient-facing notification.
func NotificationTypeForStatus(s RequestStatus) (NotificationType, bool) {
	switch s {
	case RequestStatusAccepted:
		return NotificationRequestAccepted, true
	case RequestStatusRejected:
		return NotificationRequestRejected, true
	}
	return "", false
}

// Notification 代表发给某个用户的一条通知。
type Notification struct {
	BaseModel
	RecipientID uint             `gorm:"not null;index:idx_notifications_recipient_created,priority:1;index:idx_notifications_recipient_read,priority:1" json:"recipientId"`
	SenderID    uint             `gorm:"not null" json:"senderId"`
	Type        NotificationType `gorm:"type:varchar(30);not null" json:"type"`
	Message     string           `gorm:"type:text;not null" json:"message"`
	RequestID   *uint            `json:"requestId,omitempty"`
	Read        bool             `gorm:"not null;default:false;index:idx_notifications_recipient_read,priority:2" json:"read"`
	DedupKey    *string          `gorm:"type:varchar(64);uniqueIndex" json:"-"`

	Sender *User `gorm:"foreignKey:SenderID" json:"-"`
}

// TableName 指定 Notification 模型的表名。
func (Notification) TableName() string {
	return "notifications"
}

// NotificationDedupKey identifies the notification produced by one lifecycle step.
func NotificationDedupKey(requestID uint, t NotificationType) string {
	return fmt.Sprintf("%d:%s", requestID, t)
}

// NotificationSender is the denormalised sender shown with a notification.
type NotificationSender struct {
	ID         uint        `json:"id"`
	Name       string      `json:"name"`
	BloodGroup *BloodGroup `json:"bloodGroup,omitempty"`
}

// NotificationView is the API/realtime payload of a notification.
type NotificationView struct {
	Notification
	SenderInfo *NotificationSender `json:"sender,omitempty"`
}

// NewNotificationView builds the payload, using n.Sender when it was preloaded.
func NewNotificationView(n Notification) NotificationView {
	view := NotificationView{Notification: n}
	if n.Sender != nil {
		view.SenderInfo = &NotificationSender{
			ID:         n.Sender.ID,
			Name:       n.Sender.Name,
			BloodGroup: n.Sender.BloodGroup,
		}
	}
	return view
}

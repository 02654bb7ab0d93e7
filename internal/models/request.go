package models

// RequestStatus 定义献血请求的状态
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusAccepted RequestStatus = "accepted"
	RequestStatusRejected RequestStatus = "rejected"
)

// Valid reports whether s is one of the three request states.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusPending, RequestStatusAccepted, RequestStatusRejected:
		return true
	}
	return false
}

// Terminal reports whether s is accepted or rejected.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusAccepted || s == RequestStatusRejected
}

// Request 代表患者发给献血者的一条献血请求
type Request struct {
	BaseModel
	PatientID  uint          `gorm:"not null;index" json:"patientId"`
	DonorID    uint          `gorm:"not null;index" json:"donorId"`
	BloodGroup BloodGroup    `gorm:"type:varchar(3);not null" json:"bloodGroup"`
	Message    string        `gorm:"type:varchar(500)" json:"message"`
	Status     RequestStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`

	Patient *User `gorm:"foreignKey:PatientID" json:"-"`
	Donor   *User `gorm:"foreignKey:DonorID" json:"-"`
}

// TableName 指定 Request 模型的表名。
func (Request) TableName() string {
	return "requests"
}

// RequestWithParties is the list view of a request with both parties resolved.
type RequestWithParties struct {
	Request
	PatientInfo *UserBasicInfo `json:"patient"`
	DonorInfo   *UserBasicInfo `json:"donor"`
}

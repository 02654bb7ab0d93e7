package models

import (
	"sort"
	"time"
)

// DonationCooldown 两次献血之间的最短间隔。
const DonationCooldown = 90 * 24 * time.Hour

// User 代表系统中的用户 (患者、献血者或管理员)。
type User struct {
	BaseModel
	Name             string      `gorm:"type:varchar(100);not null" json:"name"`
	Email            string      `gorm:"type:varchar(100);uniqueIndex;not null" json:"email"`
	PasswordHash     string      `gorm:"type:varchar(255);not null" json:"-"`
	Role             Role        `gorm:"type:varchar(20);not null;default:'patient';index" json:"role"`
	BloodGroup       *BloodGroup `gorm:"type:varchar(3);index" json:"bloodGroup,omitempty"`
	City             string      `gorm:"type:varchar(50);not null;index" json:"city"`
	Phone            string      `gorm:"type:varchar(20);not null" json:"phone"`
	Availability     bool        `gorm:"not null;default:true" json:"availability"`
	LastDonationDate *time.Time  `json:"lastDonationDate,omitempty"`
	Longitude        *float64    `json:"-"`
	Latitude         *float64    `json:"-"`

	DonationHistory []Donation `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"donationHistory"`
	Favorites       []*User    `gorm:"many2many:user_favorites;joinForeignKey:UserID;joinReferences:FavoriteID" json:"-"`
}

// TableName 指定 User 模型的表名。
func (User) TableName() string {
	return "users"
}

// IsDonor reports whether the user holds the donor role.
func (u *User) IsDonor() bool {
	return u.Role == RoleDonor
}

// Location returns the user's geo point; ok is false when either coordinate is missing.
func (u *User) Location() (GeoPoint, bool) {
	if u.Longitude == nil || u.Latitude == nil {
		return GeoPoint{}, false
	}
	return GeoPoint{Longitude: *u.Longitude, Latitude: *u.Latitude}, true
}

// SetLocation stores p on the user.
func (u *User) SetLocation(p GeoPoint) {
	lng, lat := p.Longitude, p.Latitude
	u.Longitude = &lng
	u.Latitude = &lat
}

// FavoriteIDs returns the ids of the user's loaded favorites.
func (u *User) FavoriteIDs() []uint {
	ids := make([]uint, 0, len(u.Favorites))
	for _, f := range u.Favorites {
		ids = append(ids, f.ID)
	}
	return ids
}

// IsEligible applies the donation cooldown to the user's history.
func (u *User) IsEligible(now time.Time) bool {
	return EligibleAt(u.DonationHistory, now)
}

// Donation 是一条献血记录，归属于某个用户。
type Donation struct {
	ID       uint      `gorm:"primarykey" json:"id"`
	UserID   uint      `gorm:"not null;index" json:"-"`
	Date     time.Time `gorm:"not null" json:"date"`
	Location string    `gorm:"type:varchar(200);not null" json:"location"`
	Notes    string    `gorm:"type:varchar(500)" json:"notes,omitempty"`
}

// TableName 指定 Donation 模型的表名。
func (Donation) TableName() string {
	return "donations"
}

// LatestDonation returns the most recent donation date in history.
func LatestDonation(history []Donation) (time.Time, bool) {
	if len(history) == 0 {
		return time.Time{}, false
	}
	sorted := make([]Donation, len(history))
	copy(sorted, history)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.After(sorted[j].Date) })
	return sorted[0].Date, true
}

// EligibleAt reports whether a donor with the given history may donate at now:
// no prior donation, or the latest one plus the cooldown is not after now.
func EligibleAt(history []Donation, now time.Time) bool {
	latest, ok := LatestDonation(history)
	if !ok {
		return true
	}
	return !latest.Add(DonationCooldown).After(now)
}

// UserBasicInfo holds minimal public information about a user.
type UserBasicInfo struct {
	ID         uint        `json:"id"`
	Name       string      `json:"name"`
	Email      string      `json:"email,omitempty"`
	Phone      string      `json:"phone,omitempty"`
	BloodGroup *BloodGroup `json:"bloodGroup,omitempty"`
	City       string      `json:"city,omitempty"`
}

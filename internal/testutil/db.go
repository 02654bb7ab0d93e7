// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"donor-finder/internal/models"
	"donor-finder/internal/storage"
)

// NewTestDB opens an isolated in-memory sqlite database with all tables migrated.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, storage.AutoMigrateTables(db))
	return db
}

// UserOption mutates a fixture user before insert.
type UserOption func(*models.User)

// WithBloodGroup sets the blood group.
func WithBloodGroup(g models.BloodGroup) UserOption {
	return func(u *models.User) { u.BloodGroup = &g }
}

// WithCity sets the city.
func WithCity(city string) UserOption {
	return func(u *models.User) { u.City = city }
}

// WithLocation sets the geo point.
func WithLocation(lng, lat float64) UserOption {
	return func(u *models.User) { u.SetLocation(models.GeoPoint{Longitude: lng, Latitude: lat}) }
}

// WithAvailability sets availability.
func WithAvailability(available bool) UserOption {
	return func(u *models.User) { u.Availability = available }
}

// WithLastDonation sets both a history entry and lastDonationDate.
func WithLastDonation(at time.Time) UserOption {
	return func(u *models.User) {
		u.LastDonationDate = &at
		u.DonationHistory = append(u.DonationHistory, models.Donation{Date: at, Location: "City Hospital"})
	}
}

// CreateUser inserts a user with the given role.
func CreateUser(t *testing.T, db *gorm.DB, name string, role models.Role, opts ...UserOption) *models.User {
	t.Helper()

	u := &models.User{
		Name:         name,
		Email:        fmt.Sprintf("%s-%s@example.com", name, uuid.NewString()[:8]),
		PasswordHash: "x",
		Role:         role,
		City:         "Lahore",
		Phone:        "0300-0000000",
		Availability: true,
	}
	if role == models.RoleDonor {
		g := models.BloodGroupOPos
		u.BloodGroup = &g
	}
	for _, opt := range opts {
		opt(u)
	}
	// gorm writes the column default back over a false Availability on Create
	available := u.Availability
	require.NoError(t, db.Create(u).Error)
	if !available {
		require.NoError(t, db.Model(u).Update("availability", false).Error)
		u.Availability = false
	}
	return u
}

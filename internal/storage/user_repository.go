package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"donor-finder/internal/models"
)

// Scope is a reusable gorm query fragment.
type Scope = func(*gorm.DB) *gorm.DB

// UserRepository defines the interface for user data operations.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	GetByIDs(ctx context.Context, ids []uint) ([]models.User, error)
	GetBasicInfoByIDs(ctx context.Context, ids []uint) (map[uint]*models.UserBasicInfo, error)
	FindDonors(ctx context.Context, scopes ...Scope) ([]models.User, error)
	FindDonorsInBox(ctx context.Context, minLat, maxLat, minLng, maxLng float64) ([]models.User, error)
	ListLocatedDonors(ctx context.Context) ([]models.User, error)
	GetFavoriteIDs(ctx context.Context, userID uint) ([]uint, error)
	ToggleFavorite(ctx context.Context, userID, favoriteID uint) ([]uint, error)
	AddDonation(ctx context.Context, userID uint, donation *models.Donation) (*models.User, error)
	UpdateLocation(ctx context.Context, userID uint, p models.GeoPoint) error
	RepairMissingLocations(ctx context.Context, fallback models.GeoPoint) (int64, error)
	CountByRole(ctx context.Context, role models.Role) (int64, error)
	CountDonorsByBloodGroup(ctx context.Context) (map[models.BloodGroup]int64, error)
}

// gormUserRepository implements UserRepository using GORM.
type gormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new GORM-based UserRepository.
func NewGormUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

func (r *gormUserRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// GetByID retrieves a user with donation history; gorm.ErrRecordNotFound when missing.
func (r *gormUserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Preload("DonationHistory").First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Update saves all columns of user. Associations are not touched.
func (r *gormUserRepository) Update(ctx context.Context, user *models.User) error {
	if user.ID == 0 {
		return gorm.ErrMissingWhereClause
	}
	return r.db.WithContext(ctx).Omit("DonationHistory", "Favorites").Save(user).Error
}

// GetByIDs returns the users found; missing ids are skipped.
func (r *gormUserRepository) GetByIDs(ctx context.Context, ids []uint) ([]models.User, error) {
	users := []models.User{}
	if len(ids) == 0 {
		return users, nil
	}
	err := r.db.WithContext(ctx).Preload("DonationHistory").Where("id IN ?", ids).Find(&users).Error
	return users, err
}

func (r *gormUserRepository) GetBasicInfoByIDs(ctx context.Context, ids []uint) (map[uint]*models.UserBasicInfo, error) {
	result := make(map[uint]*models.UserBasicInfo, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var infos []*models.UserBasicInfo
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Select("id", "name", "email", "phone", "blood_group", "city").
		Where("id IN ?", ids).
		Find(&infos).Error
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		result[info.ID] = info
	}
	return result, nil
}

// FindDonors lists donors matching the given scopes.
func (r *gormUserRepository) FindDonors(ctx context.Context, scopes ...Scope) ([]models.User, error) {
	donors := []models.User{}
	err := r.db.WithContext(ctx).
		Scopes(scopes...).
		Where("role = ?", models.RoleDonor).
		Preload("DonationHistory").
		Order("id ASC").
		Find(&donors).Error
	return donors, err
}

// FindDonorsInBox returns located donors inside a lat/lng bounding box.
func (r *gormUserRepository) FindDonorsInBox(ctx context.Context, minLat, maxLat, minLng, maxLng float64) ([]models.User, error) {
	donors := []models.User{}
	err := r.db.WithContext(ctx).
		Where("role = ?", models.RoleDonor).
		Where("latitude IS NOT NULL AND longitude IS NOT NULL").
		Where("latitude BETWEEN ? AND ?", minLat, maxLat).
		Where("longitude BETWEEN ? AND ?", minLng, maxLng).
		Find(&donors).Error
	return donors, err
}

// ListLocatedDonors returns every donor holding a full coordinate pair.
func (r *gormUserRepository) ListLocatedDonors(ctx context.Context) ([]models.User, error) {
	donors := []models.User{}
	err := r.db.WithContext(ctx).
		Where("role = ?", models.RoleDonor).
		Where("latitude IS NOT NULL AND longitude IS NOT NULL").
		Find(&donors).Error
	return donors, err
}

func (r *gormUserRepository) GetFavoriteIDs(ctx context.Context, userID uint) ([]uint, error) {
	ids := []uint{}
	err := r.db.WithContext(ctx).
		Table("user_favorites").
		Where("user_id = ?", userID).
		Order("favorite_id ASC").
		Pluck("favorite_id", &ids).Error
	return ids, err
}

// ToggleFavorite removes favoriteID from the user's favorites if present, adds it otherwise,
// and returns the resulting set.
func (r *gormUserRepository) ToggleFavorite(ctx context.Context, userID, favoriteID uint) ([]uint, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Table("user_favorites").
			Where("user_id = ? AND favorite_id = ?", userID, favoriteID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return tx.Exec("DELETE FROM user_favorites WHERE user_id = ? AND favorite_id = ?", userID, favoriteID).Error
		}
		return tx.Exec("INSERT INTO user_favorites (user_id, favorite_id) VALUES (?, ?)", userID, favoriteID).Error
	})
	if err != nil {
		return nil, err
	}
	return r.GetFavoriteIDs(ctx, userID)
}

// AddDonation appends a donation and keeps last_donation_date at the latest history date.
func (r *gormUserRepository) AddDonation(ctx context.Context, userID uint, donation *models.Donation) (*models.User, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		donation.UserID = userID
		if err := tx.Create(donation).Error; err != nil {
			return err
		}
		var history []models.Donation
		if err := tx.Where("user_id = ?", userID).Find(&history).Error; err != nil {
			return err
		}
		latest, ok := models.LatestDonation(history)
		if !ok {
			return errors.New("donation history empty after insert")
		}
		return tx.Model(&models.User{}).Where("id = ?", userID).
			Updates(map[string]interface{}{"last_donation_date": latest, "updated_at": time.Now()}).Error
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, userID)
}

func (r *gormUserRepository) UpdateLocation(ctx context.Context, userID uint, p models.GeoPoint) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{"longitude": p.Longitude, "latitude": p.Latitude})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RepairMissingLocations assigns fallback to every user lacking a full coordinate pair.
func (r *gormUserRepository) RepairMissingLocations(ctx context.Context, fallback models.GeoPoint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("latitude IS NULL OR longitude IS NULL").
		Updates(map[string]interface{}{"longitude": fallback.Longitude, "latitude": fallback.Latitude})
	return res.RowsAffected, res.Error
}

func (r *gormUserRepository) CountByRole(ctx context.Context, role models.Role) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("role = ?", role).Count(&count).Error
	return count, err
}

func (r *gormUserRepository) CountDonorsByBloodGroup(ctx context.Context) (map[models.BloodGroup]int64, error) {
	type row struct {
		BloodGroup models.BloodGroup
		Total      int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Select("blood_group, COUNT(*) AS total").
		Where("role = ? AND blood_group IS NOT NULL", models.RoleDonor).
		Group("blood_group").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.BloodGroup]int64, len(rows))
	for _, rw := range rows {
		counts[rw.BloodGroup] = rw.Total
	}
	return counts, nil
}

package storage

import (
	"context"

	"gorm.io/gorm"

	"donor-finder/internal/models"
)

// RequestRepository defines the interface for blood request data operations.
type RequestRepository interface {
	Create(ctx context.Context, request *models.Request) error
	GetByID(ctx context.Context, id uint) (*models.Request, error)
	UpdateStatus(ctx context.Context, id uint, status models.RequestStatus) error
	ListForPatient(ctx context.Context, patientID uint) ([]models.Request, error)
	ListForDonor(ctx context.Context, donorID uint) ([]models.Request, error)
	CountByStatus(ctx context.Context) (map[models.RequestStatus]int64, error)
}

type gormRequestRepository struct {
	db *gorm.DB
}

func NewGormRequestRepository(db *gorm.DB) RequestRepository {
	return &gormRequestRepository{db: db}
}

func (r *gormRequestRepository) Create(ctx context.Context, request *models.Request) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *gormRequestRepository) GetByID(ctx context.Context, id uint) (*models.Request, error) {
	var request models.Request
	if err := r.db.WithContext(ctx).First(&request, id).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

// UpdateStatus is a single-row write; the store's row atomicity is the only guard.
func (r *gormRequestRepository) UpdateStatus(ctx context.Context, id uint, status models.RequestStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Request{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormRequestRepository) ListForPatient(ctx context.Context, patientID uint) ([]models.Request, error) {
	return r.list(ctx, "patient_id = ?", patientID)
}

func (r *gormRequestRepository) ListForDonor(ctx context.Context, donorID uint) ([]models.Request, error) {
	return r.list(ctx, "donor_id = ?", donorID)
}

func (r *gormRequestRepository) list(ctx context.Context, where string, id uint) ([]models.Request, error) {
	requests := []models.Request{}
	err := r.db.WithContext(ctx).
		Where(where, id).
		Order("created_at DESC").
		Order("id DESC").
		Find(&requests).Error
	return requests, err
}

func (r *gormRequestRepository) CountByStatus(ctx context.Context) (map[models.RequestStatus]int64, error) {
	type row struct {
		Status models.RequestStatus
		Total  int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&models.Request{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.RequestStatus]int64, len(rows))
	for _, rw := range rows {
		counts[rw.Status] = rw.Total
	}
	return counts, nil
}

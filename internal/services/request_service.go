package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"donor-finder/internal/events"
	"donor-finder/internal/models"
	"donor-finder/internal/storage"
)

// CreateRequestInput is a patient's request to a donor.
type CreateRequestInput struct {
	DonorID    uint
	BloodGroup models.BloodGroup
	Message    string
}

// RequestService drives the request lifecycle: pending -> accepted | rejected.
type RequestService interface {
	Create(ctx context.Context, actor Actor, in CreateRequestInput) (*models.Request, error)
	List(ctx context.Context, actor Actor) ([]models.RequestWithParties, error)
	UpdateStatus(ctx context.Context, actor Actor, requestID uint, status models.RequestStatus) (*models.Request, error)
}

type requestService struct {
	userRepo    storage.UserRepository
	requestRepo storage.RequestRepository
	publisher   events.Publisher
	logger      *zap.Logger
}

// NewRequestService creates a RequestService. Notifications are produced
// asynchronously from the events handed to publisher.
func NewRequestService(userRepo storage.UserRepository, requestRepo storage.RequestRepository, publisher events.Publisher, logger *zap.Logger) RequestService {
	return &requestService{
		userRepo:    userRepo,
		requestRepo: requestRepo,
		publisher:   publisher,
		logger:      logger,
	}
}

func (s *requestService) Create(ctx context.Context, actor Actor, in CreateRequestInput) (*models.Request, error) {
	if !actor.Can(models.OpCreateRequest) {
		return nil, ErrForbiddenRole
	}

	donor, err := s.userRepo.GetByID(ctx, in.DonorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDonorNotFound
		}
		return nil, fmt.Errorf("查找献血者 %d 失败: %w", in.DonorID, err)
	}
	if !donor.IsDonor() {
		return nil, ErrTargetNotDonor
	}
	if !in.BloodGroup.Valid() {
		return nil, ErrInvalidBloodGroup
	}

	request := &models.Request{
		PatientID:  actor.ID,
		DonorID:    donor.ID,
		BloodGroup: in.BloodGroup,
		Message:    strings.TrimSpace(in.Message),
		Status:     models.RequestStatusPending,
	}
	if err := s.requestRepo.Create(ctx, request); err != nil {
		return nil, fmt.Errorf("创建献血请求失败: %w", err)
	}

	s.publish(ctx, request, models.NotificationRequestSent)
	return request, nil
}

// List returns the actor's requests newest first, as patient or as donor.
func (s *requestService) List(ctx context.Context, actor Actor) ([]models.RequestWithParties, error) {
	var (
		requests []models.Request
		err      error
	)
	switch actor.Role {
	case models.RolePatient:
		requests, err = s.requestRepo.ListForPatient(ctx, actor.ID)
	case models.RoleDonor:
		requests, err = s.requestRepo.ListForDonor(ctx, actor.ID)
	default:
		return nil, ErrForbiddenRole
	}
	if err != nil {
		return nil, fmt.Errorf("查询献血请求失败: %w", err)
	}

	idSet := make(map[uint]struct{}, len(requests)*2)
	for _, r := range requests {
		idSet[r.PatientID] = struct{}{}
		idSet[r.DonorID] = struct{}{}
	}
	ids := make([]uint, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	parties, err := s.userRepo.GetBasicInfoByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("加载请求双方信息失败: %w", err)
	}

	result := make([]models.RequestWithParties, 0, len(requests))
	for _, r := range requests {
		result = append(result, models.RequestWithParties{
			Request:     r,
			PatientInfo: patientInfo(parties[r.PatientID]),
			DonorInfo:   parties[r.DonorID],
		})
	}
	return result, nil
}

// patientInfo trims the patient view to name, email and phone.
func patientInfo(info *models.UserBasicInfo) *models.UserBasicInfo {
	if info == nil {
		return nil
	}
	return &models.UserBasicInfo{ID: info.ID, Name: info.Name, Email: info.Email, Phone: info.Phone}
}

// UpdateStatus sets the request status. Only the request's donor may do this.
// Re-transitioning an already answered request is not blocked; each distinct
// outcome still yields at most one notification.
func (s *requestService) UpdateStatus(ctx context.Context, actor Actor, requestID uint, status models.RequestStatus) (*models.Request, error) {
	request, err := s.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("查找献血请求 %d 失败: %w", requestID, err)
	}
	if !actor.Can(models.OpUpdateRequestStatus) {
		return nil, ErrForbiddenRole
	}
	if request.DonorID != actor.ID {
		return nil, ErrNotRequestDonor
	}
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	if err := s.requestRepo.UpdateStatus(ctx, request.ID, status); err != nil {
		return nil, fmt.Errorf("更新请求状态失败: %w", err)
	}
	updated, err := s.requestRepo.GetByID(ctx, request.ID)
	if err != nil {
		return nil, fmt.Errorf("重新加载请求 %d 失败: %w", request.ID, err)
	}

	if kind, ok := models.NotificationTypeForStatus(status); ok {
		s.publish(ctx, updated, kind)
	}
	return updated, nil
}

// publish hands the lifecycle step to the event bus. The status change is already
// committed, so a publish failure is logged and the caller still succeeds.
func (s *requestService) publish(ctx context.Context, r *models.Request, kind models.NotificationType) {
	event := events.RequestEvent{
		RequestID:  r.ID,
		PatientID:  r.PatientID,
		DonorID:    r.DonorID,
		Status:     r.Status,
		Kind:       kind,
		BloodGroup: r.BloodGroup,
		Message:    r.Message,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("发布请求事件失败，通知将缺失",
			zap.Uint("requestID", r.ID),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}

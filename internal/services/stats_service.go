package services

import (
	"context"
	"fmt"

	"donor-finder/internal/models"
	"donor-finder/internal/storage"
)

// Stats is the admin dashboard summary.
type Stats struct {
	TotalDonors      int64                       `json:"totalDonors"`
	TotalPatients    int64                       `json:"totalPatients"`
	ActiveRequests   int64                       `json:"activeRequests"`
	SuccessDonations int64                       `json:"successDonations"`
	RejectedRequests int64                       `json:"rejectedRequests"`
	BloodGroupStats  map[models.BloodGroup]int64 `json:"bloodGroupStats"`
}

// StatsService aggregates counts for operators.
type StatsService interface {
	Stats(ctx context.Context, actor Actor) (*Stats, error)
}

type statsService struct {
	userRepo    storage.UserRepository
	requestRepo storage.RequestRepository
}

// NewStatsService 创建一个新的 StatsService 实例。
func NewStatsService(userRepo storage.UserRepository, requestRepo storage.RequestRepository) StatsService {
	return &statsService{userRepo: userRepo, requestRepo: requestRepo}
}

func (s *statsService) Stats(ctx context.Context, actor Actor) (*Stats, error) {
	if !actor.Can(models.OpViewStats) {
		return nil, ErrForbiddenRole
	}

	donors, err := s.userRepo.CountByRole(ctx, models.RoleDonor)
	if err != nil {
		return nil, fmt.Errorf("统计献血者失败: %w", err)
	}
	patients, err := s.userRepo.CountByRole(ctx, models.RolePatient)
	if err != nil {
		return nil, fmt.Errorf("统计患者失败: %w", err)
	}
	byStatus, err := s.requestRepo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("统计请求状态失败: %w", err)
	}
	byGroup, err := s.userRepo.CountDonorsByBloodGroup(ctx)
	if err != nil {
		return nil, fmt.Errorf("统计血型分布失败: %w", err)
	}

	// every group is present, zero included
	groups := make(map[models.BloodGroup]int64, len(models.BloodGroups))
	for _, g := range models.BloodGroups {
		groups[g] = byGroup[g]
	}

	return &Stats{
		TotalDonors:      donors,
		TotalPatients:    patients,
		ActiveRequests:   byStatus[models.RequestStatusPending],
		SuccessDonations: byStatus[models.RequestStatusAccepted],
		RejectedRequests: byStatus[models.RequestStatusRejected],
		BloodGroupStats:  groups,
	}, nil
}

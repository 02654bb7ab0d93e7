package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"donor-finder/internal/config"
	"donor-finder/internal/geo"
	"donor-finder/internal/models"
	"donor-finder/internal/storage"
)

// DonorView is a donor as returned by search: profile plus derived fields.
type DonorView struct {
	models.User
	IsEligible     bool             `json:"isEligible"`
	Location       *models.GeoPoint `json:"location,omitempty"`
	DistanceMeters *float64         `json:"distanceMeters,omitempty"`
}

func newDonorView(u models.User, now time.Time) DonorView {
	u.PasswordHash = ""
	view := DonorView{User: u, IsEligible: u.IsEligible(now)}
	if p, ok := u.Location(); ok {
		view.Location = &p
	}
	return view
}

// NearbyQuery asks for donors around a point.
type NearbyQuery struct {
	Latitude     float64
	Longitude    float64
	BloodGroup   *models.BloodGroup
	RadiusMeters float64 // 0 = configured default
}

// DonationInput is one donation record to append.
type DonationInput struct {
	Date     time.Time
	Location string
	Notes    string
}

// DonorService covers donor discovery, favorites and donor self-service.
type DonorService interface {
	Search(ctx context.Context, actor *Actor, f DonorFilter) ([]DonorView, error)
	Nearby(ctx context.Context, q NearbyQuery) ([]DonorView, error)
	ToggleFavorite(ctx context.Context, actor Actor, targetID uint) ([]uint, error)
	AddDonation(ctx context.Context, actor Actor, in DonationInput) (*models.User, error)
	UpdateLocation(ctx context.Context, actor Actor, p models.GeoPoint) (*models.User, error)
	RepairLocations(ctx context.Context) (int64, error)
	ReindexGeo(ctx context.Context) (int, error)
}

type donorService struct {
	userRepo storage.UserRepository
	index    geo.DonorIndex
	cfg      config.GeoConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewDonorService creates a DonorService.
func NewDonorService(userRepo storage.UserRepository, index geo.DonorIndex, cfg config.GeoConfig, logger *zap.Logger) DonorService {
	return &donorService{
		userRepo: userRepo,
		index:    index,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Search lists donors matching f. Anonymous callers asking for favorites get nothing.
func (s *donorService) Search(ctx context.Context, actor *Actor, f DonorFilter) ([]DonorView, error) {
	if f.BloodGroup != nil && !f.BloodGroup.Valid() {
		return nil, ErrInvalidBloodGroup
	}

	var favoriteIDs []uint
	if f.FavoritesOnly {
		if actor == nil {
			return []DonorView{}, nil
		}
		ids, err := s.userRepo.GetFavoriteIDs(ctx, actor.ID)
		if err != nil {
			return nil, fmt.Errorf("获取收藏列表失败: %w", err)
		}
		if len(ids) == 0 {
			return []DonorView{}, nil
		}
		favoriteIDs = ids
	}

	now := s.now()
	donors, err := s.userRepo.FindDonors(ctx, DonorFilterScope(f, favoriteIDs, now))
	if err != nil {
		return nil, fmt.Errorf("查询献血者失败: %w", err)
	}

	views := make([]DonorView, 0, len(donors))
	for _, d := range donors {
		views = append(views, newDonorView(d, now))
	}
	return views, nil
}

// Nearby returns donors within the radius, nearest first. Distances are recomputed
// from the stored coordinates so a stale index entry can never widen the radius.
func (s *donorService) Nearby(ctx context.Context, q NearbyQuery) ([]DonorView, error) {
	center := models.GeoPoint{Longitude: q.Longitude, Latitude: q.Latitude}
	if err := center.Validate(); err != nil {
		return nil, ErrInvalidLocation
	}
	if q.BloodGroup != nil && !q.BloodGroup.Valid() {
		return nil, ErrInvalidBloodGroup
	}
	radius := q.RadiusMeters
	if radius == 0 {
		radius = s.cfg.DefaultRadiusMeters
	}
	if radius <= 0 || math.IsNaN(radius) || (s.cfg.MaxRadiusMeters > 0 && radius > s.cfg.MaxRadiusMeters) {
		return nil, ErrInvalidRadius
	}

	hits, err := s.index.Near(ctx, geo.NearQuery{Center: center, RadiusMeters: radius})
	if err != nil {
		return nil, fmt.Errorf("地理索引查询失败 (%s): %w", s.index.Name(), err)
	}
	if len(hits) == 0 {
		return []DonorView{}, nil
	}

	ids := make([]uint, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.UserID)
	}
	users, err := s.userRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("加载献血者失败: %w", err)
	}

	now := s.now()
	views := make([]DonorView, 0, len(users))
	for _, u := range users {
		if !u.IsDonor() {
			continue
		}
		if q.BloodGroup != nil && (u.BloodGroup == nil || *u.BloodGroup != *q.BloodGroup) {
			continue
		}
		p, ok := u.Location()
		if !ok {
			continue
		}
		d := center.DistanceMeters(p)
		if d > radius {
			continue
		}
		view := newDonorView(u, now)
		view.DistanceMeters = &d
		views = append(views, view)
	}
	sort.SliceStable(views, func(i, j int) bool { return *views[i].DistanceMeters < *views[j].DistanceMeters })
	return views, nil
}

// ToggleFavorite adds or removes targetID from the actor's favorites and returns the new set.
func (s *donorService) ToggleFavorite(ctx context.Context, actor Actor, targetID uint) ([]uint, error) {
	if !actor.Can(models.OpToggleFavorite) {
		return nil, ErrForbiddenRole
	}
	if _, err := s.userRepo.GetByID(ctx, targetID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("查找用户 %d 失败: %w", targetID, err)
	}
	ids, err := s.userRepo.ToggleFavorite(ctx, actor.ID, targetID)
	if err != nil {
		return nil, fmt.Errorf("更新收藏失败: %w", err)
	}
	return ids, nil
}

// AddDonation appends a donation to the donor's history.
func (s *donorService) AddDonation(ctx context.Context, actor Actor, in DonationInput) (*models.User, error) {
	if !actor.Can(models.OpAddDonation) {
		return nil, ErrForbiddenRole
	}
	user, err := s.userRepo.AddDonation(ctx, actor.ID, &models.Donation{
		Date:     in.Date.UTC(),
		Location: strings.TrimSpace(in.Location),
		Notes:    strings.TrimSpace(in.Notes),
	})
	if err != nil {
		return nil, fmt.Errorf("添加献血记录失败: %w", err)
	}
	return user, nil
}

// UpdateLocation stores the actor's point and keeps the geo index in step.
func (s *donorService) UpdateLocation(ctx context.Context, actor Actor, p models.GeoPoint) (*models.User, error) {
	if !actor.Can(models.OpUpdateLocation) {
		return nil, ErrForbiddenRole
	}
	if err := p.Validate(); err != nil {
		return nil, ErrInvalidLocation
	}
	if err := s.userRepo.UpdateLocation(ctx, actor.ID, p); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("更新位置失败: %w", err)
	}
	user, err := s.userRepo.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("获取用户 %d 失败: %w", actor.ID, err)
	}

	if user.IsDonor() {
		err = s.index.Upsert(ctx, user.ID, p)
	} else {
		err = s.index.Remove(ctx, user.ID)
	}
	if err != nil {
		s.logger.Warn("地理索引更新失败，等待同步任务修复", zap.Uint("userID", user.ID), zap.Error(err))
	}
	return user, nil
}

// RepairLocations gives every user without a coordinate pair the configured default point.
func (s *donorService) RepairLocations(ctx context.Context) (int64, error) {
	fallback := models.GeoPoint{Longitude: s.cfg.RepairLongitude, Latitude: s.cfg.RepairLatitude}
	if err := fallback.Validate(); err != nil {
		return 0, fmt.Errorf("默认修复坐标无效: %w", err)
	}
	n, err := s.userRepo.RepairMissingLocations(ctx, fallback)
	if err != nil {
		return 0, fmt.Errorf("修复缺失坐标失败: %w", err)
	}
	if n > 0 {
		s.logger.Info("已修复缺失坐标的用户", zap.Int64("count", n))
	}
	return n, nil
}

// ReindexGeo rebuilds the geo index from the located donors in the database.
func (s *donorService) ReindexGeo(ctx context.Context) (int, error) {
	donors, err := s.userRepo.ListLocatedDonors(ctx)
	if err != nil {
		return 0, fmt.Errorf("加载献血者坐标失败: %w", err)
	}
	n, err := s.index.Rebuild(ctx, donors)
	if err != nil {
		return 0, fmt.Errorf("重建地理索引失败 (%s): %w", s.index.Name(), err)
	}
	return n, nil
}

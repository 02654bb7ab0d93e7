package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"donor-finder/internal/auth"
	"donor-finder/internal/config"
	"donor-finder/internal/geo"
	"donor-finder/internal/models"
	"donor-finder/internal/storage"
)

// RegisterInput carries the fields accepted at sign-up.
type RegisterInput struct {
	Name         string
	Email        string
	Password     string
	Role         models.Role
	BloodGroup   *models.BloodGroup
	City         string
	Phone        string
	Availability *bool
	Location     *models.GeoPoint
}

// AuthService 定义了用户认证服务的接口。
type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*models.User, error)
	Login(ctx context.Context, email, password string) (token string, user *models.User, err error)
	Logout(ctx context.Context, claims *auth.Claims) error
	Me(ctx context.Context, userID uint) (*models.User, error)
	IssueToken(user *models.User) (string, error)
}

// authService 是 AuthService 的实现。
type authService struct {
	userRepo  storage.UserRepository
	index     geo.DonorIndex
	blacklist auth.TokenBlacklist
	cfg       config.AuthConfig
	logger    *zap.Logger
}

// NewAuthService 创建一个新的 AuthService 实例。
func NewAuthService(userRepo storage.UserRepository, index geo.DonorIndex, blacklist auth.TokenBlacklist, cfg config.AuthConfig, logger *zap.Logger) AuthService {
	return &authService{
		userRepo:  userRepo,
		index:     index,
		blacklist: blacklist,
		cfg:       cfg,
		logger:    logger,
	}
}

// Register 处理用户注册逻辑。Admins cannot self-register.
func (s *authService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))

	role := in.Role
	if role == "" {
		role = models.RolePatient
	}
	if role != models.RolePatient && role != models.RoleDonor {
		return nil, ErrInvalidRole
	}
	if in.BloodGroup != nil && !in.BloodGroup.Valid() {
		return nil, ErrInvalidBloodGroup
	}
	if role == models.RoleDonor && in.BloodGroup == nil {
		return nil, ErrBloodGroupRequired
	}
	if in.Location != nil {
		if err := in.Location.Validate(); err != nil {
			return nil, ErrInvalidLocation
		}
	}

	_, err := s.userRepo.GetByEmail(ctx, email)
	if err == nil {
		return nil, ErrUserAlreadyExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("检查邮箱时出错: %w", err)
	}

	hashedPassword, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("密码哈希失败: %w", err)
	}

	newUser := &models.User{
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		PasswordHash: hashedPassword,
		Role:         role,
		BloodGroup:   in.BloodGroup,
		City:         strings.TrimSpace(in.City),
		Phone:        strings.TrimSpace(in.Phone),
		Availability: true,
	}
	if in.Location != nil {
		newUser.SetLocation(*in.Location)
	}

	if err := s.userRepo.Create(ctx, newUser); err != nil {
		return nil, fmt.Errorf("创建用户失败: %w", err)
	}
	// gorm skips zero values for columns with a default, so false needs its own write
	if in.Availability != nil && !*in.Availability {
		newUser.Availability = false
		if err := s.userRepo.Update(ctx, newUser); err != nil {
			return nil, fmt.Errorf("更新可献血状态失败: %w", err)
		}
	}

	if p, ok := newUser.Location(); ok && newUser.IsDonor() {
		if err := s.index.Upsert(ctx, newUser.ID, p); err != nil {
			s.logger.Warn("新献血者写入地理索引失败，等待同步任务修复", zap.Uint("userID", newUser.ID), zap.Error(err))
		}
	}
	return newUser, nil
}

// Login 处理用户登录逻辑。
func (s *authService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := s.userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, ErrInvalidCredentials
	} else if err != nil {
		return "", nil, fmt.Errorf("通过邮箱查找用户失败: %w", err)
	}

	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// IssueToken signs a token for user without checking a password.
func (s *authService) IssueToken(user *models.User) (string, error) {
	token, err := auth.GenerateToken(user.ID, user.Role, s.cfg)
	if err != nil {
		return "", fmt.Errorf("生成令牌失败: %w", err)
	}
	return token, nil
}

// Logout 将令牌的 jti 加入黑名单，直到其原始过期时间。
func (s *authService) Logout(ctx context.Context, claims *auth.Claims) error {
	if claims == nil || claims.ID == "" {
		return errors.New("令牌缺少 JTI")
	}
	exp := time.Now().Add(s.cfg.JWTExpiry)
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	if err := s.blacklist.Add(ctx, claims.ID, exp); err != nil {
		return fmt.Errorf("吊销令牌失败: %w", err)
	}
	return nil
}

// Me returns the caller's profile with donation history.
func (s *authService) Me(ctx context.Context, userID uint) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, fmt.Errorf("获取用户 %d 失败: %w", userID, err)
	}
	return user, nil
}

package apiserver

import (
	"net/http"

	"go.uber.org/zap"

	"donor-finder/internal/middleware"
	"donor-finder/internal/models"
	"donor-finder/internal/services"
)

// AuthHandler 封装了认证相关的 HTTP 处理器方法。
type AuthHandler struct {
	AuthService services.AuthService
	logger      *zap.Logger
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(authService services.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{AuthService: authService, logger: logger}
}

// LocationRequest 是请求体中的坐标。
type LocationRequest struct {
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
}

func (l LocationRequest) point() models.GeoPoint {
	return models.GeoPoint{Longitude: *l.Lng, Latitude: *l.Lat}
}

// RegisterRequest 是用户注册请求的结构体。
type RegisterRequest struct {
	Name         string           `json:"name" validate:"required,max=100"`
	Email        string           `json:"email" validate:"required,email,max=100"`
	Password     string           `json:"password" validate:"required,min=6,max=72"`
	Role         string           `json:"role" validate:"omitempty,oneof=patient donor"`
	BloodGroup   string           `json:"bloodGroup" validate:"omitempty,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
	City         string           `json:"city" validate:"required,max=50"`
	Phone        string           `json:"phone" validate:"required,max=20"`
	Availability *bool            `json:"availability"`
	Location     *LocationRequest `json:"location"`
}

// LoginRequest 是用户登录请求的结构体。
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse 是成功登录或注册后返回的结构体。
type LoginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Register 处理用户注册请求，成功后直接签发令牌。
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	in := services.RegisterInput{
		Name:         req.Name,
		Email:        req.Email,
		Password:     req.Password,
		Role:         models.Role(req.Role),
		City:         req.City,
		Phone:        req.Phone,
		Availability: req.Availability,
	}
	if req.BloodGroup != "" {
		g := models.BloodGroup(req.BloodGroup)
		in.BloodGroup = &g
	}
	if req.Location != nil {
		p := req.Location.point()
		in.Location = &p
	}

	user, err := h.AuthService.Register(r.Context(), in)
	if err != nil {
		writeServiceError(w, h.logger, "注册", err)
		return
	}

	token, err := h.AuthService.IssueToken(user)
	if err != nil {
		writeServiceError(w, h.logger, "签发令牌", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, LoginResponse{Token: token, User: user})
}

// Login 处理用户登录请求。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	token, user, err := h.AuthService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, h.logger, "登录", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, LoginResponse{Token: token, User: user})
}

// Logout 处理用户登出请求，将当前 Token 加入黑名单。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaimsFromContext(r.Context())
	if !ok {
		writeJSONError(w, "用户未认证或无法解析用户声明", http.StatusUnauthorized)
		return
	}

	if err := h.AuthService.Logout(r.Context(), claims); err != nil {
		writeServiceError(w, h.logger, "登出", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, MessageResponse{Message: "登出成功"})
}

// Me 返回当前登录用户的资料。
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	user, err := h.AuthService.Me(r.Context(), actor.ID)
	if err != nil {
		writeServiceError(w, h.logger, "获取当前用户", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, user)
}

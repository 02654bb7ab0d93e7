package apiserver

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"donor-finder/internal/models"
	"donor-finder/internal/services"
	"donor-finder/internal/storage"
)

// UserHandler 封装了献血者查询与用户自助操作的 HTTP 处理器。
type UserHandler struct {
	DonorService services.DonorService
	StatsService services.StatsService
	logger       *zap.Logger
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(donorService services.DonorService, statsService services.StatsService, logger *zap.Logger) *UserHandler {
	return &UserHandler{DonorService: donorService, StatsService: statsService, logger: logger}
}

// DonationRequest 是新增献血记录的请求体。date 接受 RFC3339 或 YYYY-MM-DD。
type DonationRequest struct {
	Date     string `json:"date" validate:"required"`
	Location string `json:"location" validate:"required,max=200"`
	Notes    string `json:"notes" validate:"max=500"`
}

// queryBloodGroup reads a blood group from the query string. An unencoded "+"
// arrives as a space, so "O " is read back as "O+".
func queryBloodGroup(q url.Values) *models.BloodGroup {
	raw := q.Get("bloodGroup")
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	g := models.BloodGroup(strings.ReplaceAll(raw, " ", "+"))
	return &g
}

func queryBool(q url.Values, key string) (*bool, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// SearchDonors 处理 GET /api/users/donors。认证可选，仅 favorites=true 时需要身份。
func (h *UserHandler) SearchDonors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	city := strings.TrimSpace(q.Get("city"))
	if len(city) > 50 {
		writeJSONResponse(w, http.StatusBadRequest, ErrorResponse{
			Error:   "请求参数校验失败",
			Details: map[string]string{"city": "长度不能超过 50"},
		})
		return
	}
	f := services.DonorFilter{BloodGroup: queryBloodGroup(q)}
	if city != "" {
		f.City = &city
	}

	var err error
	if f.Availability, err = queryBool(q, "availability"); err != nil {
		writeJSONError(w, "availability 必须是 true 或 false", http.StatusBadRequest)
		return
	}
	if f.IsEligible, err = queryBool(q, "isEligible"); err != nil {
		writeJSONError(w, "isEligible 必须是 true 或 false", http.StatusBadRequest)
		return
	}
	favorites, err := queryBool(q, "favorites")
	if err != nil {
		writeJSONError(w, "favorites 必须是 true 或 false", http.StatusBadRequest)
		return
	}
	f.FavoritesOnly = favorites != nil && *favorites

	var actor *services.Actor
	if a, ok := actorFromRequest(r); ok {
		actor = &a
	}

	donors, err := h.DonorService.Search(r.Context(), actor, f)
	if err != nil {
		writeServiceError(w, h.logger, "查询献血者", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, donors)
}

// NearbyDonors 处理 GET /api/users/nearby?lat&lng&bloodGroup&maxDistance (公开接口)。
func (h *UserHandler) NearbyDonors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		writeJSONError(w, "lat 和 lng 为必填数字", http.StatusBadRequest)
		return
	}

	query := services.NearbyQuery{
		Latitude:   lat,
		Longitude:  lng,
		BloodGroup: queryBloodGroup(q),
	}
	if raw := q.Get("maxDistance"); raw != "" {
		radius, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeJSONError(w, "maxDistance 必须是数字 (米)", http.StatusBadRequest)
			return
		}
		if radius <= 0 {
			writeJSONError(w, services.ErrInvalidRadius.Error(), http.StatusBadRequest)
			return
		}
		query.RadiusMeters = radius
	}

	donors, err := h.DonorService.Nearby(r.Context(), query)
	if err != nil {
		writeServiceError(w, h.logger, "附近献血者查询", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, donors)
}

// UpdateLocation 处理 PUT /api/users/location。
func (h *UserHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req LocationRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.DonorService.UpdateLocation(r.Context(), actor, req.point())
	if err != nil {
		writeServiceError(w, h.logger, "更新位置", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, user)
}

// AddDonation 处理 POST /api/users/donation。
func (h *UserHandler) AddDonation(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req DonationRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, ErrorResponse{
			Error:   "请求参数校验失败",
			Details: map[string]string{"date": "日期格式无效"},
		})
		return
	}

	user, err := h.DonorService.AddDonation(r.Context(), actor, services.DonationInput{
		Date:     date,
		Location: req.Location,
		Notes:    req.Notes,
	})
	if err != nil {
		writeServiceError(w, h.logger, "添加献血记录", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, user)
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// ToggleFavorite 处理 PUT /api/users/favorite/{id}。
func (h *UserHandler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	targetID, err := storage.ParseID(mux.Vars(r)["id"])
	if err != nil {
		writeJSONError(w, "无效的用户 ID", http.StatusBadRequest)
		return
	}

	ids, err := h.DonorService.ToggleFavorite(r.Context(), actor, targetID)
	if err != nil {
		writeServiceError(w, h.logger, "切换收藏", err)
		return
	}
	if ids == nil {
		ids = []uint{}
	}
	writeJSONResponse(w, http.StatusOK, ids)
}

// Stats 处理 GET /api/admin/stats。
func (h *UserHandler) Stats(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	stats, err := h.StatsService.Stats(r.Context(), actor)
	if err != nil {
		writeServiceError(w, h.logger, "统计", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, stats)
}

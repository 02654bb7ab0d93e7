package apiserver

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"donor-finder/internal/models"
	"donor-finder/internal/services"
	"donor-finder/internal/storage"
)

// RequestHandler 封装了献血请求的 HTTP 处理器。
type RequestHandler struct {
	RequestService services.RequestService
	logger         *zap.Logger
}

// NewRequestHandler 创建一个新的 RequestHandler 实例。
func NewRequestHandler(requestService services.RequestService, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{RequestService: requestService, logger: logger}
}

// CreateRequestRequest 是患者发起献血请求的请求体。
type CreateRequestRequest struct {
	DonorID    uint   `json:"donorId" validate:"required"`
	BloodGroup string `json:"bloodGroup" validate:"required,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
	Message    string `json:"message" validate:"max=500"`
}

// UpdateStatusRequest 是献血者回复请求的请求体。
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending accepted rejected"`
}

// Create 处理 POST /api/requests。
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req CreateRequestRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	request, err := h.RequestService.Create(r.Context(), actor, services.CreateRequestInput{
		DonorID:    req.DonorID,
		BloodGroup: models.BloodGroup(req.BloodGroup),
		Message:    req.Message,
	})
	if err != nil {
		writeServiceError(w, h.logger, "创建献血请求", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, request)
}

// List 处理 GET /api/requests，按角色返回患者发出或献血者收到的请求。
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	requests, err := h.RequestService.List(r.Context(), actor)
	if err != nil {
		writeServiceError(w, h.logger, "查询献血请求", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, requests)
}

// UpdateStatus 处理 PUT /api/requests/{id}。
func (h *RequestHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	requestID, err := storage.ParseID(mux.Vars(r)["id"])
	if err != nil {
		writeJSONError(w, "无效的请求 ID", http.StatusBadRequest)
		return
	}
	var req UpdateStatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	request, err := h.RequestService.UpdateStatus(r.Context(), actor, requestID, models.RequestStatus(req.Status))
	if err != nil {
		writeServiceError(w, h.logger, "更新请求状态", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, request)
}

package apiserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"donor-finder/internal/auth"
	"donor-finder/internal/middleware"
	"donor-finder/internal/services"
)

// ErrorResponse 是 API 错误响应的通用结构体。
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// MessageResponse is the body of endpoints that only acknowledge.
type MessageResponse struct {
	Message string `json:"message"`
}

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate 解析 JSON 请求体并执行 validate 标签校验。
// 出错时已经写好响应，调用方直接返回即可。
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeJSONError(w, "请求体不能为空", http.StatusBadRequest)
		} else {
			writeJSONError(w, "请求体无效", http.StatusBadRequest)
		}
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSONResponse(w, http.StatusBadRequest, ErrorResponse{
				Error:   "请求参数校验失败",
				Details: formatValidationErrors(verrs),
			})
			return false
		}
		writeJSONError(w, "请求参数校验失败", http.StatusBadRequest)
		return false
	}
	return true
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		if field == "" {
			field = fe.StructField()
		}
		details[field] = validationMessage(fe)
	}
	return details
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "不能为空"
	case "email":
		return "邮箱格式无效"
	case "min":
		return fmt.Sprintf("长度至少为 %s", fe.Param())
	case "max":
		return fmt.Sprintf("长度不能超过 %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("必须是以下之一: %s", fe.Param())
	case "gte", "lte":
		return "超出允许范围"
	default:
		return "格式无效"
	}
}

// writeJSONResponse 是一个辅助函数，用于发送 JSON 响应。
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeJSONError 是一个辅助函数，用于发送 JSON 格式的错误响应。
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, statusCode, ErrorResponse{Error: message})
}

// statusForError 把服务层的哨兵错误映射为 HTTP 状态码。
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidRole),
		errors.Is(err, services.ErrBloodGroupRequired),
		errors.Is(err, services.ErrInvalidBloodGroup),
		errors.Is(err, services.ErrTargetNotDonor),
		errors.Is(err, services.ErrInvalidStatus),
		errors.Is(err, services.ErrInvalidLocation),
		errors.Is(err, services.ErrInvalidRadius),
		errors.Is(err, auth.ErrPasswordLength):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrNotRequestDonor):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrForbiddenRole):
		return http.StatusForbidden
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrDonorNotFound),
		errors.Is(err, services.ErrRequestNotFound),
		errors.Is(err, services.ErrNotificationNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrUserAlreadyExists):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeServiceError 写出服务层错误。内部错误只记录日志，不向客户端暴露细节。
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		logger.Error(op+" 失败", zap.Error(err))
		writeJSONError(w, "服务器内部错误", status)
		return
	}
	writeJSONError(w, rootMessage(err), status)
}

// rootMessage returns the sentinel's text rather than the wrapped chain.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

// actorFromRequest 读取认证中间件写入的调用者身份。
func actorFromRequest(r *http.Request) (services.Actor, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		return services.Actor{}, false
	}
	role, ok := middleware.GetRoleFromContext(r.Context())
	if !ok {
		return services.Actor{}, false
	}
	return services.Actor{ID: userID, Role: role}, true
}

func requireActor(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeJSONError(w, "用户未认证", http.StatusUnauthorized)
	}
	return actor, ok
}

package apiserver

import (
	"net/http"

	"github.com/gorilla/mux"

	"donor-finder/internal/middleware"
	"donor-finder/internal/models"
)

// Handlers groups the HTTP handlers mounted under /api.
type Handlers struct {
	Auth          *AuthHandler
	Users         *UserHandler
	Requests      *RequestHandler
	Notifications *NotificationHandler
}

// RegisterRoutes 在 r 上挂载 /api 路由。
func RegisterRoutes(r *mux.Router, h Handlers, authn *middleware.Authenticator) {
	protected := func(f http.HandlerFunc) http.Handler {
		return authn.RequireAuth(f)
	}
	gated := func(op models.Operation, f http.HandlerFunc) http.Handler {
		return authn.RequireAuth(middleware.RequirePermission(op)(f))
	}

	api := r.PathPrefix("/api").Subrouter()

	// 认证
	api.HandleFunc("/auth/register", h.Auth.Register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", h.Auth.Login).Methods(http.MethodPost)
	api.Handle("/auth/logout", protected(h.Auth.Logout)).Methods(http.MethodPost)
	api.Handle("/auth/me", protected(h.Auth.Me)).Methods(http.MethodGet)

	// 用户与献血者
	api.HandleFunc("/users/nearby", h.Users.NearbyDonors).Methods(http.MethodGet)
	api.Handle("/users/donors", authn.OptionalAuth(http.HandlerFunc(h.Users.SearchDonors))).Methods(http.MethodGet)
	api.Handle("/users/location", gated(models.OpUpdateLocation, h.Users.UpdateLocation)).Methods(http.MethodPut)
	api.Handle("/users/donation", gated(models.OpAddDonation, h.Users.AddDonation)).Methods(http.MethodPost)
	api.Handle("/users/favorite/{id:[0-9]+}", gated(models.OpToggleFavorite, h.Users.ToggleFavorite)).Methods(http.MethodPut)
	api.Handle("/admin/stats", gated(models.OpViewStats, h.Users.Stats)).Methods(http.MethodGet)

	// 献血请求。状态更新的角色与归属检查在服务层按 404/403/401 顺序进行。
	api.Handle("/requests", gated(models.OpCreateRequest, h.Requests.Create)).Methods(http.MethodPost)
	api.Handle("/requests", gated(models.OpListRequests, h.Requests.List)).Methods(http.MethodGet)
	api.Handle("/requests/{id:[0-9]+}", protected(h.Requests.UpdateStatus)).Methods(http.MethodPut)

	// 通知
	api.Handle("/notifications", gated(models.OpReadNotifications, h.Notifications.List)).Methods(http.MethodGet)
	api.Handle("/notifications/unread/count", gated(models.OpReadNotifications, h.Notifications.UnreadCount)).Methods(http.MethodGet)
	api.Handle("/notifications/read-all", gated(models.OpReadNotifications, h.Notifications.MarkAllRead)).Methods(http.MethodPut)
	api.Handle("/notifications/{id:[0-9]+}/read", gated(models.OpReadNotifications, h.Notifications.MarkRead)).Methods(http.MethodPut)
	api.Handle("/notifications/{id:[0-9]+}", gated(models.OpReadNotifications, h.Notifications.Delete)).Methods(http.MethodDelete)
}

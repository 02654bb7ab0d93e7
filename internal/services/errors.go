package services

import (
	"errors"

	"donor-finder/internal/models"
)

var (
	ErrUserAlreadyExists  = errors.New("该邮箱已被注册")
	ErrInvalidCredentials = errors.New("邮箱或密码错误")
	ErrUserNotFound       = errors.New("用户未找到")
	ErrInvalidRole        = errors.New("无效的用户角色")
	ErrBloodGroupRequired = errors.New("献血者必须填写血型")
	ErrInvalidBloodGroup  = errors.New("无效的血型")

	ErrForbiddenRole = errors.New("当前角色无权执行此操作")

	ErrDonorNotFound   = errors.New("献血者不存在")
	ErrTargetNotDonor  = errors.New("目标用户不是献血者")
	ErrRequestNotFound = errors.New("献血请求不存在")
	ErrNotRequestDonor = errors.New("您不是此请求的献血者")
	ErrInvalidStatus   = errors.New("无效的请求状态")

	ErrNotificationNotFound = errors.New("通知不存在")

	ErrInvalidLocation = errors.New("无效的坐标")
	ErrInvalidRadius   = errors.New("无效的查询半径")
)

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID   uint
	Role models.Role
}

// Can reports whether the actor's role permits op.
func (a Actor) Can(op models.Operation) bool {
	return a.Role.Permits(op)
}

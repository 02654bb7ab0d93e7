package storage

import (
	"errors"
	"strconv"
)

// ErrInvalidID 表示路径中的 ID 不是正整数。
var ErrInvalidID = errors.New("无效的 ID")

// ParseID 解析路由中的 {id}。gorm 的自增主键从 1 开始，0 视为无效。
func ParseID(s string) (uint, error) {
	val, err := strconv.ParseUint(s, 10, 64)
	if err != nil || val == 0 {
		return 0, ErrInvalidID
	}
	return uint(val), nil
}

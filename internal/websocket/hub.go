package websocket

import (
	"sync"

	"go.uber.org/zap"

	"donor-finder/internal/metrics"
	"donor-finder/internal/wstypes"
)

// Conn is a realtime connection handle held by the Registry.
type Conn interface {
	// ID is unique per connection for the lifetime of the process.
	ID() string
	// Send queues msg without blocking; false means the connection cannot take it.
	Send(msg []byte) bool
	Close()
}

// Registry maps user ids to their single active connection.
// State is process-local: each server instance sees only its own connections,
// and a restart drops everything.
type Registry struct {
	mu     sync.RWMutex
	byUser map[uint]Conn
	byConn map[string]uint

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *zap.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		byUser:  make(map[uint]Conn),
		byConn:  make(map[string]uint),
		logger:  logger,
		metrics: m,
	}
}

// Register binds conn to userID, replacing and closing any previous connection for that user.
// A connection re-registering under a different user is moved.
func (r *Registry) Register(userID uint, conn Conn) {
	r.mu.Lock()
	if prevUser, ok := r.byConn[conn.ID()]; ok && prevUser != userID {
		if r.byUser[prevUser] == conn {
			delete(r.byUser, prevUser)
		}
	}
	old, hadOld := r.byUser[userID]
	r.byUser[userID] = conn
	r.byConn[conn.ID()] = userID
	if hadOld && old.ID() != conn.ID() {
		delete(r.byConn, old.ID())
	} else {
		hadOld = false
	}
	n := len(r.byUser)
	r.mu.Unlock()

	if hadOld {
		r.logger.Info("用户已有连接，关闭旧连接并注册新连接", zap.Uint("userID", userID), zap.String("oldConn", old.ID()))
		old.Close()
	}
	r.metrics.SetOnlineUsers(n)
	r.logger.Debug("客户端已注册", zap.Uint("userID", userID), zap.String("conn", conn.ID()))
}

// Unregister removes conn by reverse lookup. Connections that were already
// replaced are ignored. Reports whether a mapping was removed.
func (r *Registry) Unregister(conn Conn) bool {
	r.mu.Lock()
	userID, ok := r.byConn[conn.ID()]
	if ok {
		delete(r.byConn, conn.ID())
		if current, exists := r.byUser[userID]; exists && current.ID() == conn.ID() {
			delete(r.byUser, userID)
		}
	}
	n := len(r.byUser)
	r.mu.Unlock()

	if ok {
		r.metrics.SetOnlineUsers(n)
		r.logger.Debug("客户端已注销", zap.Uint("userID", userID), zap.String("conn", conn.ID()))
	}
	return ok
}

// Push sends event to userID's connection. It returns true when the recipient was
// connected and the frame was queued; offline recipients are skipped silently.
func (r *Registry) Push(userID uint, event string, payload interface{}) bool {
	r.mu.RLock()
	conn, ok := r.byUser[userID]
	r.mu.RUnlock()
	if !ok {
		r.metrics.IncPush(metrics.PushOffline)
		return false
	}

	frame, err := wstypes.Encode(event, payload)
	if err != nil {
		r.logger.Error("无法序列化推送消息", zap.Uint("userID", userID), zap.String("event", event), zap.Error(err))
		r.metrics.IncPush(metrics.PushDropped)
		return false
	}
	if !conn.Send(frame) {
		r.logger.Warn("发送队列已满或已关闭，丢弃推送", zap.Uint("userID", userID), zap.String("event", event))
		r.metrics.IncPush(metrics.PushDropped)
		return false
	}
	r.metrics.IncPush(metrics.PushDelivered)
	return true
}

// IsOnline reports whether userID holds a connection on this instance.
func (r *Registry) IsOnline(userID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

// Count returns the number of connected users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// CloseAll closes every registered connection; used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.byUser))
	for _, c := range r.byUser {
		conns = append(conns, c)
	}
	r.byUser = make(map[uint]Conn)
	r.byConn = make(map[string]uint)
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	r.metrics.SetOnlineUsers(0)
}

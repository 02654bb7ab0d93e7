package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"donor-finder/internal/config"
	"donor-finder/internal/wstypes"
)

// Client is a middleman between the websocket connection and the Registry.
type Client struct {
	id       string
	registry *Registry
	conn     *websocket.Conn
	logger   *zap.Logger

	// Buffered channel of outbound frames.
	send chan []byte

	// UserID is the identity proven by the token presented at upgrade.
	UserID uint

	closeOnce sync.Once
	done      chan struct{}
}

// ID implements Conn.
func (c *Client) ID() string { return c.id }

// Send implements Conn. It never blocks; a full buffer or closed client returns false.
func (c *Client) Send(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close implements Conn. The write pump drains and sends a close frame.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) sendFrame(event string, payload interface{}) {
	frame, err := wstypes.Encode(event, payload)
	if err != nil {
		c.logger.Error("无法序列化帧", zap.String("event", event), zap.Error(err))
		return
	}
	c.Send(frame)
}

// readPump reads client frames until the connection drops.
func (c *Client) readPump(wsCfg config.WebSocketConfig) {
	defer func() {
		c.registry.Unregister(c)
		c.Close()
		c.conn.Close()
	}()
	pongWait := time.Duration(wsCfg.PongWaitSeconds) * time.Second
	c.conn.SetReadLimit(int64(wsCfg.MaxMessageSizeBytes))
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket 异常关闭", zap.Uint("userID", c.UserID), zap.Error(err))
			} else {
				c.logger.Debug("WebSocket 读取结束", zap.Uint("userID", c.UserID), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Warn("客户端发送了非文本消息类型", zap.Uint("userID", c.UserID), zap.Int("type", messageType))
			continue
		}
		c.handleFrame(raw)
	}
}

func (c *Client) handleFrame(raw []byte) {
	var env wstypes.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.sendFrame(wstypes.EventError, wstypes.ErrorPayload{Message: "invalid frame"})
		return
	}

	switch env.Event {
	case wstypes.EventRegister:
		var payload wstypes.RegisterPayload
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &payload); err != nil {
				c.sendFrame(wstypes.EventError, wstypes.ErrorPayload{Message: "invalid register payload"})
				return
			}
		}
		// an empty payload registers the authenticated user
		if payload.UserID != 0 && payload.UserID != c.UserID {
			c.logger.Warn("register 的用户 ID 与令牌不符", zap.Uint("tokenUser", c.UserID), zap.Uint("claimed", payload.UserID))
			c.sendFrame(wstypes.EventError, wstypes.ErrorPayload{Message: "user id does not match token"})
			return
		}
		c.registry.Register(c.UserID, c)
		c.sendFrame(wstypes.EventRegistered, wstypes.RegisterPayload{UserID: c.UserID})
	default:
		c.logger.Debug("忽略未知事件", zap.String("event", env.Event))
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *Client) writePump(wsCfg config.WebSocketConfig) {
	writeWait := time.Duration(wsCfg.WriteWaitSeconds) * time.Second
	ticker := time.NewTicker(time.Duration(wsCfg.PingPeriodSeconds) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeClient upgrades the request and starts the pumps for an authenticated user.
// The connection is not reachable by Push until the client sends a register frame.
func ServeClient(registry *Registry, userID uint, w http.ResponseWriter, r *http.Request, wsCfg config.WebSocketConfig, checkOrigin func(*http.Request) bool, logger *zap.Logger) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket 升级失败", zap.Error(err))
		return
	}
	bufferSize := wsCfg.SendBufferSize
	if bufferSize <= 0 {
		bufferSize = 64
	}
	client := &Client{
		id:       uuid.NewString(),
		registry: registry,
		conn:     conn,
		logger:   logger.With(zap.Uint("userID", userID)),
		send:     make(chan []byte, bufferSize),
		UserID:   userID,
		done:     make(chan struct{}),
	}

	go client.writePump(wsCfg)
	go client.readPump(wsCfg)

	logger.Info("客户端已连接", zap.Uint("userID", userID), zap.String("conn", client.id))
}

package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/veritest/veritest-backend/internal/config"
	"github.com/veritest/veritest-backend/internal/middleware"
	ws "github.com/veritest/veritest-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams live attempt events to monitoring admins.
type WSHandler struct {
	rdb      *redis.Client
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(rdb *redis.Client, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		rdb:      rdb,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// MonitorExam godoc
// WS /ws/v1/admin/exams/:exam_id/monitor
// Upgrades to WebSocket and relays the exam's monitor channel: attempt
// starts, finalizes, violations and disqualifications, as they happen.
func (h *WSHandler) MonitorExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam ID"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("admin_id", claims.UserID).
		Str("exam_id", examID.String()).
		Logger()

	wsLog.Info().Msg("Monitor connected")

	ctx := c.Request.Context()
	sub := h.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
	defer sub.Close()

	// Reader goroutine: handles pings and detects client disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg ws.RequestEnvelope
			if err := ws.ReadEnvelope(conn, &msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					wsLog.Warn().Err(err).Msg("Unexpected close")
				}
				return
			}
			switch msg.Action {
			case ws.ActionPing:
				ws.WriteFrame(conn, ws.PongResponse{Event: ws.EventPong})
			default:
				ws.WriteError(conn, "unknown action")
			}
		}
	}()

	for {
		select {
		case <-done:
			wsLog.Info().Msg("Monitor disconnected")
			return
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				wsLog.Warn().Msg("Subscription channel closed")
				return
			}
			frame := ws.MonitorFrame{
				Event: ws.EventMonitor,
				Data:  json.RawMessage(msg.Payload),
			}
			if err := ws.WriteFrame(conn, frame); err != nil {
				wsLog.Debug().Err(err).Msg("Write failed, closing")
				return
			}
		}
	}
}

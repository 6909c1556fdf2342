package handler

import (
	"context"
	"net/http"
	"slices"
	"time"

	"storywriter/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second
	// Время ожидания pong от клиента.
	pongWait = 60 * time.Second
	// Период пингов, меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Клиент ничего не присылает, кроме управляющих кадров.
	maxMessageSize = 512
)

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(h.allowedOrigins) == 0 || slices.Contains(h.allowedOrigins, origin)
		},
	}
}

// progressSocket пересылает события прогона книги в websocket.
// Токен передается в query (?token=), так как браузер не умеет ставить заголовки при апгрейде.
func (h *Handler) progressSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		handleServiceError(c, models.ErrTokenInvalid)
		return
	}
	claims, err := h.auth.VerifyAccessToken(token)
	if err != nil {
		h.logger.Warn("Websocket token verification failed", zap.Error(err))
		handleServiceError(c, err)
		return
	}
	bookID, ok := bookIDParam(c)
	if !ok {
		return
	}
	if _, err := h.books.GetOutline(c.Request.Context(), claims.UserID, bookID); err != nil {
		handleServiceError(c, err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := h.progress.Subscribe(ctx, bookID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrader уже ответил клиенту
		h.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}
	defer conn.Close()

	progressSockets.Inc()
	defer progressSockets.Dec()
	log := h.logger.With(zap.String("bookID", bookID.String()), zap.Uint64("userID", claims.UserID))
	log.Info("Progress websocket connected")

	go readPump(conn, cancel)
	writePump(ctx, conn, events, log)
	log.Info("Progress websocket closed")
}

// readPump читает только управляющие кадры и отменяет ctx при отключении клиента.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, events <-chan models.ProgressEvent, log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case event, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				log.Warn("Failed to write progress event", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

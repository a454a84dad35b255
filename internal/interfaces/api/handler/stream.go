package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"calendar/internal/application/dto"
	appErrors "calendar/internal/pkg/errors"
	"calendar/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	defaultStreamBuffer    = 16
	defaultStreamHeartbeat = 30 * time.Second
)

// streamConn is one open SSE connection. It is registered with the hub as a
// subscriber for every topic the client joined.
type streamConn struct {
	id     string
	msgs   chan []byte
	closed chan struct{}
}

func (s *streamConn) Key() string { return "sse:" + s.id }

// Send queues msg for the connection without blocking the publisher.
func (s *streamConn) Send(_ context.Context, msg []byte) error {
	select {
	case <-s.closed:
		return fmt.Errorf("%w: connection %s closed", appErrors.ErrSubscriberGone, s.id)
	default:
	}
	select {
	case s.msgs <- msg:
		return nil
	default:
		return fmt.Errorf("%w: connection %s is not keeping up", appErrors.ErrSubscriberGone, s.id)
	}
}

// StreamHandler serves reminder notifications over server-sent events.
type StreamHandler struct {
	subscriptions Subscriptions
	log           logger.Logger
	bufferSize    int
	heartbeat     time.Duration

	mu    sync.RWMutex
	conns map[string]*streamConn

	shutdown  chan struct{}
	closeOnce sync.Once
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(subscriptions Subscriptions, log logger.Logger) *StreamHandler {
	return &StreamHandler{
		subscriptions: subscriptions,
		log:           log,
		bufferSize:    defaultStreamBuffer,
		heartbeat:     defaultStreamHeartbeat,
		conns:         make(map[string]*streamConn),
		shutdown:      make(chan struct{}),
	}
}

// Close ends every open stream and refuses new ones. http.Server.Shutdown
// does not cancel active requests, so it is registered with
// RegisterOnShutdown.
func (h *StreamHandler) Close() {
	h.closeOnce.Do(func() { close(h.shutdown) })
}

// ConnectionCount returns the number of open streams.
func (h *StreamHandler) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *StreamHandler) register() *streamConn {
	conn := &streamConn{
		id:     uuid.NewString(),
		msgs:   make(chan []byte, h.bufferSize),
		closed: make(chan struct{}),
	}
	h.mu.Lock()
	h.conns[conn.id] = conn
	h.mu.Unlock()
	return conn
}

func (h *StreamHandler) release(conn *streamConn) {
	h.mu.Lock()
	delete(h.conns, conn.id)
	h.mu.Unlock()
	close(conn.closed)
	h.subscriptions.UnsubscribeAll(conn.Key())
}

// Stream handles GET /notifications/stream. Each "topic" query parameter
// joins that topic right away.
func (h *StreamHandler) Stream(c echo.Context) error {
	select {
	case <-h.shutdown:
		return c.String(http.StatusServiceUnavailable, "server is shutting down")
	default:
	}
	res := c.Response()
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	conn := h.register()
	defer h.release(conn)

	for _, topic := range c.QueryParams()["topic"] {
		if topic = strings.TrimSpace(topic); topic != "" {
			h.subscriptions.Subscribe(topic, conn)
		}
	}
	h.log.Debug(fmt.Sprintf("Stream %s opened", conn.id))

	hello, _ := json.Marshal(map[string]string{"connectionId": conn.id})
	if err := writeEvent(res, "connected", hello); err != nil {
		return nil
	}
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			h.log.Debug(fmt.Sprintf("Stream %s closed by client", conn.id))
			return nil
		case <-h.shutdown:
			h.log.Debug(fmt.Sprintf("Stream %s closed for shutdown", conn.id))
			return nil
		case msg := <-conn.msgs:
			if err := writeEvent(res, dto.ReminderNotificationEvent, msg); err != nil {
				h.log.Warn(fmt.Sprintf("Stream %s write failed: %v", conn.id, err))
				return nil
			}
		case <-ticker.C:
			if _, err := res.Write([]byte(": ping\n\n")); err != nil {
				return nil
			}
		}
		flusher.Flush()
	}
}

// Join handles POST /notifications/connections/:id/topics.
func (h *StreamHandler) Join(c echo.Context) error {
	var req dto.JoinTopicRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, fmt.Errorf("%w: %v", appErrors.ErrInvalidQuery, err))
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return writeError(c, fmt.Errorf("%w: topic is required", appErrors.ErrInvalidQuery))
	}

	id := c.Param("id")
	h.mu.RLock()
	conn, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		return writeError(c, fmt.Errorf("%w: %s", appErrors.ErrConnectionNotFound, id))
	}
	h.subscriptions.Subscribe(topic, conn)
	h.log.Info(fmt.Sprintf("Stream %s joined topic %s", id, topic))
	return c.NoContent(http.StatusNoContent)
}

func writeEvent(res *echo.Response, event string, data []byte) error {
	_, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", event, data)
	return err
}

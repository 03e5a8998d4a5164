package bridge

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// StatusFunc returns the timer status of a destination and whether the
// destination is configured.
type StatusFunc func(destinationID string) (TimerStatus, bool)

// ServerConfig configures the viewer HTTP server.
type ServerConfig struct {
	ListenAddr     string
	AllowedOrigins []string
}

// Server exposes the viewer WebSocket and a small status API.
type Server struct {
	config   ServerConfig
	hub      *Hub
	handler  Handler
	status   StatusFunc
	router   *gin.Engine
	server   *http.Server
	upgrader websocket.Upgrader
	ctx      context.Context
	cancel   context.CancelFunc
	logger   zerolog.Logger
}

// NewServer creates the viewer server.
func NewServer(cfg ServerConfig, hub *Hub, handler Handler, status StatusFunc, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:  cfg,
		hub:     hub,
		handler: handler,
		status:  status,
		router:  gin.New(),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With().Str("component", "bridge").Logger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve serves viewers on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting viewer server")
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting viewers and closes open connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.corsMiddleware())

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)
	s.router.GET("/api/status/:destination", s.handleStatus)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	destination := c.Param("destination")

	status, ok := s.status(destination)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "unknown_destination",
			"message": "Destination is not monitored",
		})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	viewerID := c.Query("viewer")
	if viewerID == "" {
		viewerID = ulid.Make().String()
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("viewer", viewerID).Msg("WebSocket upgrade failed")
		return
	}

	client := s.hub.NewClient(viewerID)
	if !s.hub.Register(client) {
		_ = conn.Close()
		return
	}

	go s.writePump(conn, client)
	s.readPump(conn, client)
}

// readPump dispatches viewer messages in arrival order and answers each on
// the viewer's own queue.
func (s *Server) readPump(conn *websocket.Conn, client *Client) {
	defer func() {
		if s.hub.Unregister(client) {
			s.handler.ViewerGone(s.ctx, client.ID)
		}
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Str("viewer", client.ID).Msg("Viewer connection closed")
			}
			return
		}

		msg, err := Decode(data)
		if err != nil {
			s.hub.Send(client.ID, NewError("", err.Error(), true))
			continue
		}

		for _, reply := range s.handler.Handle(s.ctx, client.ID, msg) {
			if reply.RequestID == "" {
				reply.RequestID = msg.RequestID
			}
			s.hub.Send(client.ID, reply)
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug().Err(err).Str("viewer", client.ID).Msg("Failed to write to viewer")
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

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.config.AllowedOrigins, "*") || slices.Contains(s.config.AllowedOrigins, origin)
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("remote_addr", c.ClientIP()).
			Int("status", c.Writer.Status()).
			Msg("Viewer request")
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.checkOrigin(c.Request) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

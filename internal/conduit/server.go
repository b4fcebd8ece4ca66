package conduit

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/roach88/calsync/internal/xpod"
)

// maxBody caps the size of a request body.
const maxBody = 4 << 20

// Server answers cross-pod requests with a handler.
type Server struct {
	handler xpod.Handler
	secret  []byte
	logger  *slog.Logger
}

// NewServer returns a server dispatching to h.
func NewServer(h xpod.Handler, secret []byte, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{handler: h, secret: secret, logger: logger}
}

// Router returns a gin engine serving the conduit endpoint and a health
// check.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST(Path, s.requirePod(), s.handle)
	return r
}

// requirePod rejects requests without a valid pod token.
func (s *Server) requirePod() gin.HandlerFunc {
	return func(c *gin.Context) {
		parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing pod token"})
			return
		}
		pod, err := VerifyToken(s.secret, parts[1])
		if err != nil {
			s.logger.Warn("rejected conduit request", "remote", c.ClientIP(), "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid pod token"})
			return
		}
		c.Set("pod", pod)
		c.Next()
	}
}

func (s *Server) handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp := xpod.Dispatch(c.Request.Context(), s.handler, body)
	s.logger.Debug("conduit request handled",
		"pod", c.GetString("pod"),
		"result", resp.Result,
		"class", resp.Class)
	c.JSON(http.StatusOK, resp)
}

package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/circuitbot/internal/events"
	"github.com/betbot/circuitbot/internal/journal"
	"github.com/betbot/circuitbot/internal/monitor"
	"github.com/betbot/circuitbot/internal/registry"
)

var apiLog = logrus.WithField("component", "api")

// Monitor 引擎的管理面
type Monitor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() monitor.Status
}

// Journal 阶梯流水查询
type Journal interface {
	List(ctx context.Context, f journal.Filter) ([]journal.Entry, error)
}

type Config struct {
	Registry *registry.Registry
	Monitor  Monitor
	Logs     *events.LogBuffer
	Journal  Journal      // 可选
	Events   http.Handler // 可选，/ws
	Token    string       // 非空时 /api 与 /ws 需要 Bearer token
}

type Server struct {
	cfg Config
}

func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Monitor == nil {
		return nil, errors.New("monitor is required")
	}
	if cfg.Logs == nil {
		cfg.Logs = events.NewLogBuffer(events.DefaultLogCapacity)
	}
	return &Server{cfg: cfg}, nil
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.wrap(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	api := r.Group("/api", s.auth())

	accounts := api.Group("/accounts")
	accounts.GET("", s.wrap(s.handleAccountsList))
	accounts.POST("", s.wrap(s.handleAccountsCreate))
	accounts.POST("/sync", s.wrap(s.handleAccountsSync))
	accountID := accounts.Group("/:accountID")
	accountID.GET("", s.wrap(s.handleAccountGet))
	accountID.PUT("", s.wrap(s.handleAccountUpdate))
	accountID.DELETE("", s.wrap(s.handleAccountDelete))

	api.GET("/instruments", s.wrap(s.handleInstrumentsList))
	api.PUT("/instruments", s.wrap(s.handleInstrumentsReplace))

	ladders := api.Group("/ladders")
	ladders.GET("", s.wrap(s.handleLaddersList))
	ladders.PUT("", s.wrap(s.handleLaddersReplace))
	ladders.GET("/:accountKey/:symbol", s.wrap(s.handleLadderGet))
	ladders.PUT("/:accountKey/:symbol", s.wrap(s.handleLadderSet))
	ladders.DELETE("/:accountKey/:symbol", s.wrap(s.handleLadderDelete))
	api.GET("/symbols/:accountKey", s.wrap(s.handleSymbolsGet))
	api.PUT("/symbols/:accountKey", s.wrap(s.handleSymbolsSet))

	mon := api.Group("/monitor")
	mon.POST("/start", s.wrap(s.handleMonitorStart))
	mon.POST("/stop", s.wrap(s.handleMonitorStop))
	mon.GET("/status", s.wrap(s.handleMonitorStatus))

	api.GET("/logs", s.wrap(s.handleLogsList))
	api.DELETE("/logs", s.wrap(s.handleLogsClear))
	api.GET("/journal", s.wrap(s.handleJournalList))

	if s.cfg.Events != nil {
		r.GET("/ws", s.auth(), gin.WrapH(s.cfg.Events))
	}
	return r
}

type paramsKeyType string

const paramsKey paramsKeyType = "circuitbot_path_params"

// wrap 把 net/http handler 适配到 gin，路径参数注入 request context
func (s *Server) wrap(h func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := map[string]string{}
		for _, p := range c.Params {
			m[p.Key] = p.Value
		}
		ctx := context.WithValue(c.Request.Context(), paramsKey, m)
		c.Request = c.Request.WithContext(ctx)
		h(c.Writer, c.Request)
	}
}

func pathParam(r *http.Request, key string) string {
	m, _ := r.Context().Value(paramsKey).(map[string]string)
	return strings.TrimSpace(m[key])
}

func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.Token == "" {
			c.Next()
			return
		}
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if got == "" {
			got = c.Query("token") // websocket 客户端无法设置 header
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
			writeError(c.Writer, http.StatusUnauthorized, "unauthorized")
			c.Abort()
			return
		}
		c.Next()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		apiLog.Debugf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter 组装 HTTP 路由
func NewRouter(api *API, ws http.Handler, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log.Named("http")))
	r.Use(middleware.Recoverer)

	r.Get("/ws/{roomID}", ws.ServeHTTP)

	r.Route("/api/rooms", func(r chi.Router) {
		r.Post("/", api.HandleCreateRoom)
		r.Get("/", api.HandleListRooms)
		r.Get("/{roomID}", api.HandleGetRoom)
		r.Get("/{roomID}/join-check", api.HandleJoinCheck)
		r.Delete("/{roomID}/players/{playerID}", api.HandleKick)
	})

	// 管理与监控接口
	r.HandleFunc("/admin/config", api.HandleAdminConfig)
	r.Get("/admin/mirror/rooms", api.HandleMirrorRooms)
	r.Get("/metrics", api.HandleMetrics)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// requestLogger 用 zap 记录请求（debug 级别）
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

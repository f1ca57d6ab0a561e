package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mediq/model-gateway/internal/health"
	"github.com/mediq/model-gateway/pkg/types"
	"github.com/sirupsen/logrus"
)

// Router 模型路由器接口
type Router interface {
	SelectProvider(feature types.Feature) (types.Provider, error)
	ExecuteWithFallback(ctx context.Context, prov types.Provider, feature types.Feature, prompt, systemPrompt string) *types.RouteResult
}

// MaintenanceService 维护模式服务接口
type MaintenanceService interface {
	GetStatus() *types.MaintenanceStatus
	Enter(level types.MaintenanceLevel, reason string, feature types.Feature, triggeredBy string) (*types.MaintenanceStatus, error)
	Exit(exitedBy string) (*types.MaintenanceStatus, error)
}

// KeyAdmin 密钥管理接口
type KeyAdmin interface {
	AddKey(provider types.Provider, feature types.Feature, plaintext string, priority int) (*types.APIKey, error)
	ListKeys() ([]*types.APIKey, error)
	DisableKey(id string) error
	GetActiveKey(provider types.Provider, feature types.Feature) (*types.APIKey, error)
}

// HealthProber 按需健康探测接口
type HealthProber interface {
	CheckProviderHealth(ctx context.Context, prov types.Provider, keyID, apiKey string, feature types.Feature) *health.CheckResult
}

// HTTPServer HTTP服务器
type HTTPServer struct {
	engine      *gin.Engine
	config      *types.Config
	router      Router
	maintenance MaintenanceService
	keys        KeyAdmin
	prober      HealthProber
	logger      *logrus.Logger
	server      *http.Server
}

// NewServer 创建HTTP服务器
func NewServer(
	cfg *types.Config,
	modelRouter Router,
	maintenance MaintenanceService,
	keys KeyAdmin,
	prober HealthProber,
	logger *logrus.Logger,
) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(RequestLogger(logger))
	engine.Use(gin.Recovery())

	s := &HTTPServer{
		engine:      engine,
		config:      cfg,
		router:      modelRouter,
		maintenance: maintenance,
		keys:        keys,
		prober:      prober,
		logger:      logger,
	}

	s.setupRoutes()
	return s
}

// setupRoutes 设置路由
func (s *HTTPServer) setupRoutes() {
	// 无需认证的端点
	s.engine.GET("/health", s.handleLiveness)

	v1 := s.engine.Group("/api/v1")
	{
		v1.POST("/route", s.handleRoute)
		v1.GET("/maintenance", s.handleMaintenanceStatus)
	}

	// 管理端点
	admin := v1.Group("")
	admin.Use(AdminAuth(s.config.Admin.JWTSecret, s.config.Admin.EmergencyToken))
	{
		admin.POST("/maintenance/enter", s.handleMaintenanceEnter)
		admin.POST("/maintenance/exit", s.handleMaintenanceExit)
		admin.POST("/keys", s.handleAddKey)
		admin.GET("/keys", s.handleListKeys)
		admin.POST("/keys/:id/disable", s.handleDisableKey)
		admin.POST("/health/check", s.handleHealthCheck)
	}
}

// Handler 返回底层的HTTP处理器，测试用
func (s *HTTPServer) Handler() http.Handler {
	return s.engine
}

// Start 启动服务器，阻塞直到关闭
func (s *HTTPServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Infof("启动模型网关服务器，地址: %s", addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 优雅停止服务器
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

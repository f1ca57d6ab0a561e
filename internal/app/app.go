package app

import (
	"fmt"
	"os"

	"github.com/mediq/model-gateway/internal/config"
	"github.com/mediq/model-gateway/internal/crypto"
	"github.com/mediq/model-gateway/internal/health"
	"github.com/mediq/model-gateway/internal/keystore"
	"github.com/mediq/model-gateway/internal/maintenance"
	"github.com/mediq/model-gateway/internal/notify"
	"github.com/mediq/model-gateway/internal/provider"
	"github.com/mediq/model-gateway/internal/router"
	"github.com/mediq/model-gateway/internal/server"
	"github.com/mediq/model-gateway/internal/store"
	"github.com/sirupsen/logrus"
)

// Application 应用程序上下文
type Application struct {
	Config      *config.ConfigManager
	Store       *store.Store
	Crypto      *crypto.Service
	KeyStore    *keystore.KeyStore
	Notifier    *notify.Service
	Maintenance *maintenance.Service
	Registry    *provider.Registry
	Monitor     *health.Monitor
	Checker     *health.Checker
	Router      *router.ModelRouter
	HTTPServer  *server.HTTPServer
	Logger      *logrus.Logger
}

// NewApplication 创建应用程序实例，按依赖顺序组装所有组件
func NewApplication(configPath string) (*Application, error) {
	configMgr := config.NewConfigManager(configPath)
	cfg, err := configMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	logger.SetOutput(os.Stdout)
	if level, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	cryptoSvc, err := crypto.NewService(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("初始化加密服务失败: %w", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("打开存储失败: %w", err)
	}

	keyStore := keystore.NewKeyStore(st, cryptoSvc, logger)
	notifier := notify.NewService(cfg.Notify, logger)
	maint := maintenance.NewService(st, notifier, logger)

	registry := provider.NewRegistry(
		provider.NewGeminiAdapter(cfg.Providers.Gemini, logger),
	)

	monitor := health.NewMonitor(st, registry, logger)
	checker := health.NewChecker(keyStore, monitor, registry.Providers(), cfg.Health.Interval(), logger)

	modelRouter := router.NewModelRouter(
		keyStore, monitor, maint, notifier,
		registry, cfg.Router.MaxRetries, logger,
	)

	httpServer := server.NewServer(cfg, modelRouter, maint, keyStore, monitor, logger)

	return &Application{
		Config:      configMgr,
		Store:       st,
		Crypto:      cryptoSvc,
		KeyStore:    keyStore,
		Notifier:    notifier,
		Maintenance: maint,
		Registry:    registry,
		Monitor:     monitor,
		Checker:     checker,
		Router:      modelRouter,
		HTTPServer:  httpServer,
		Logger:      logger,
	}, nil
}

// Close 释放应用程序持有的资源
func (a *Application) Close() error {
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}

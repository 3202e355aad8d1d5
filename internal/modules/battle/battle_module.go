package battle

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	custommiddleware "fable-self/internal/middleware"
	"fable-self/internal/modules/battle/handler"
	"fable-self/internal/modules/battle/service"
	"fable-self/internal/modules/battle/tasks"
	"fable-self/internal/pkg/config"
	"fable-self/internal/pkg/i18n"
	"fable-self/internal/pkg/log"
	"fable-self/internal/pkg/metrics"
	redisClient "fable-self/internal/pkg/redis"
	"fable-self/internal/pkg/response"
	"fable-self/internal/pkg/trace"
	"fable-self/internal/pkg/validator"
	"fable-self/internal/repository/impl"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/liangdas/mqant/conf"
	"github.com/liangdas/mqant/module"
	basemodule "github.com/liangdas/mqant/module/base"
	"github.com/liangdas/mqant/server"
	_ "github.com/lib/pq"
)

// BattleModule 战斗引擎模块
type BattleModule struct {
	basemodule.BaseModule
	db            *sql.DB
	redis         *redisClient.Client
	httpServer    *echo.Echo
	battleService *service.BattleService
	battleHandler *handler.BattleHandler
	sweeperTask   *tasks.SessionSweeperTask
	respWriter    response.Writer
}

// GetType returns module type
func (m *BattleModule) GetType() string {
	return "battle"
}

// Version returns module version
func (m *BattleModule) Version() string {
	return "1.0.0"
}

// OnAppConfigurationLoaded 当App初始化时调用
func (m *BattleModule) OnAppConfigurationLoaded(app module.App) {
	m.BaseModule.OnAppConfigurationLoaded(app)
}

// OnInit module initialization
func (m *BattleModule) OnInit(app module.App, settings *conf.ModuleSettings) {
	metrics.SetServiceName("battle")
	// 按照 mqant 官方推荐：在每个模块的 OnInit 中配置服务注册参数
	// TTL = 30s, 心跳间隔 = 15s (TTL 必须大于心跳间隔)
	m.BaseModule.OnInit(m, app, settings,
		server.RegisterInterval(15*time.Second),
		server.RegisterTTL(30*time.Second),
	)

	// 1. Initialize database connection
	if err := m.initDatabase(settings); err != nil {
		panic(fmt.Sprintf("Failed to initialize database: %v", err))
	}

	// 2. Initialize Redis (battle snapshot cache, optional)
	if err := m.initRedis(); err != nil {
		fmt.Printf("[Battle Module] Redis unavailable, snapshot cache disabled: %v\n", err)
	}

	// 3. Initialize response writer
	m.initResponseWriter()

	// 4. Initialize HTTP server
	m.initHTTPServer()

	// 5. Initialize Services and Handlers
	if err := m.initServicesAndHandlers(settings); err != nil {
		panic(fmt.Sprintf("Failed to initialize battle services: %v", err))
	}

	// 6. Setup routes
	m.setupRoutes()

	// 7. Setup RPC methods
	m.setupRPCMethods()

	// 8. Start cron tasks
	m.startCronTasks()

	// 9. Start HTTP server in background
	go m.startHTTPServer(settings)

	m.GetServer().Options()
}

// initDatabase initializes database connection
func (m *BattleModule) initDatabase(settings *conf.ModuleSettings) error {
	// Read from environment variable first
	dbURL := os.Getenv("FABLE_BATTLE_DATABASE_URL")
	if dbURL == "" {
		// Fallback to config file
		if settings != nil && settings.Settings != nil {
			dbURLInterface, ok := settings.Settings["database_url"]
			if ok {
				dbURL, _ = dbURLInterface.(string)
			}
		}
	}

	if dbURL == "" {
		return fmt.Errorf("FABLE_BATTLE_DATABASE_URL not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	m.db = db
	fmt.Println("[Battle Module] Database initialized successfully")

	// 启动数据库连接池监控
	go m.startDBPoolMonitoring(db)

	return nil
}

// initRedis initializes Redis client for the battle snapshot cache
func (m *BattleModule) initRedis() error {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		host = "localhost"
	}

	port := 6379
	if portStr := os.Getenv("REDIS_PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			port = p
		}
	}

	password := os.Getenv("REDIS_PASSWORD")

	dbIndex := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if d, err := strconv.Atoi(dbStr); err == nil {
			dbIndex = d
		}
	}

	client, err := redisClient.NewClient(redisClient.Config{
		Host:     host,
		Port:     port,
		Password: password,
		DB:       dbIndex,
	}, metrics.GetServiceName())
	if err != nil {
		return err
	}

	m.redis = client
	fmt.Printf("[Battle Module] Redis connected successfully (Host: %s:%d, DB: %d)\n", host, port, dbIndex)
	return nil
}

// initResponseWriter initializes response writer
func (m *BattleModule) initResponseWriter() {
	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}

	logger := log.GetLogger()
	m.respWriter = response.NewResponseHandler(logger, environment)
	fmt.Println("[Battle Module] Response writer initialized")
}

// initHTTPServer initializes HTTP server
func (m *BattleModule) initHTTPServer() {
	m.httpServer = echo.New()

	// Hide banner
	m.httpServer.HideBanner = true
	m.httpServer.HidePort = true

	// Register validator
	m.httpServer.Validator = validator.New()

	logger := log.GetLogger()

	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}

	// ========== 中间件配置（顺序很重要！） ==========

	// 1. TraceID 中间件 - 最先执行，生成或提取 TraceID
	m.httpServer.Use(trace.Middleware())

	// 2. Metrics 中间件 - 记录 HTTP 方法到 context（用于 Prometheus）
	m.httpServer.Use(metrics.Middleware())

	// 3. i18n 中间件 - 语言检测和设置
	m.httpServer.Use(i18n.Middleware())

	// 4. Logging 中间件 - 记录请求日志（依赖 TraceID）
	loggingConfig := custommiddleware.DefaultLoggingConfig()
	if environment == "development" {
		loggingConfig.DetailedLog = true
		loggingConfig.LogRequestBody = true
	}
	m.httpServer.Use(custommiddleware.LoggingMiddlewareWithConfig(logger, loggingConfig))

	// 5. Recovery 中间件 - 捕获 panic
	m.httpServer.Use(custommiddleware.RecoveryMiddleware(m.respWriter, logger))

	// 6. Error 中间件 - 统一错误处理
	m.httpServer.Use(custommiddleware.ErrorMiddleware(m.respWriter, logger))

	// 7. CORS 中间件
	m.httpServer.Use(middleware.CORS())

	fmt.Println("[Battle Module] HTTP middlewares configured")
}

// initServicesAndHandlers initializes services and HTTP handlers
func (m *BattleModule) initServicesAndHandlers(settings *conf.ModuleSettings) error {
	logger := log.GetLogger()

	// 对手目录: 路径可被环境变量覆盖
	catalogPath := os.Getenv("FABLE_OPPONENT_CATALOG")
	if catalogPath == "" {
		if settings != nil && settings.Settings != nil {
			if pathInterface, ok := settings.Settings["opponent_catalog"]; ok {
				catalogPath, _ = pathInterface.(string)
			}
		}
	}
	if catalogPath == "" {
		catalogPath = "configs/opponents.json"
	}

	catalog, err := service.LoadOpponentCatalog(catalogPath)
	if err != nil {
		return err
	}
	fmt.Printf("[Battle Module] Opponent catalog loaded (%d opponents)\n", catalog.Len())

	timeout := config.GetEnvDuration("FABLE_BATTLE_TIMEOUT_SECONDS", service.DefaultBattleTimeout)

	// 注册表 TTL 留出一分钟余量, 兜底清扫只处理定时器丢失的会话
	store := service.NewSessionRegistry(timeout+time.Minute, logger)

	profileRepo := impl.NewPlayerProfileRepository(m.db)
	recordRepo := impl.NewBattleRecordRepository(m.db)

	m.battleService = service.NewBattleService(
		catalog,
		store,
		profileRepo,
		recordRepo,
		m.redis,
		logger,
		timeout,
	)

	m.battleHandler = handler.NewBattleHandler(m.battleService, m.respWriter)

	fmt.Println("[Battle Module] Services and handlers initialized successfully")
	return nil
}

// startCronTasks starts cron scheduled tasks
func (m *BattleModule) startCronTasks() {
	logger := log.GetLogger()

	m.sweeperTask = tasks.NewSessionSweeperTask(m.battleService, logger)
	m.sweeperTask.Start()

	fmt.Println("[Battle Module] Cron tasks started successfully:")
	fmt.Println("  ✓ Session Sweeper Task (每分钟)")
}

// setupRoutes sets up HTTP routes
func (m *BattleModule) setupRoutes() {
	// API v1 group
	v1 := m.httpServer.Group("/api/v1")

	battles := v1.Group("/battle")
	{
		battles.POST("/battles", m.battleHandler.StartBattle)
		battles.POST("/battles/action", m.battleHandler.Act)
		battles.GET("/battles/current", m.battleHandler.GetCurrent)
		battles.GET("/opponents", m.battleHandler.ListOpponents)
	}

	// Health check
	m.httpServer.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]interface{}{
			"status":          "ok",
			"module":          "battle",
			"active_sessions": m.battleService.ActiveBattleCount(),
		})
	})

	// Prometheus metrics endpoint
	m.httpServer.GET("/metrics", metrics.EchoHandler())

	fmt.Println("[Battle Module] Routes configured successfully")
	fmt.Println("[Battle Module] Battle API routes: /api/v1/battle/*")
}

// startHTTPServer starts HTTP server
func (m *BattleModule) startHTTPServer(settings *conf.ModuleSettings) {
	// Read HTTP port from environment variable first
	port := os.Getenv("BATTLE_HTTP_PORT")
	if port == "" {
		// Fallback to config file
		if settings != nil && settings.Settings != nil {
			portInterface, ok := settings.Settings["http_port"]
			if ok {
				port, _ = portInterface.(string)
			}
		}
	}

	if port == "" {
		port = "8075" // Default port
	}

	fmt.Printf("[Battle Module] Starting HTTP server on port %s\n", port)

	if err := m.httpServer.Start(":" + port); err != nil {
		fmt.Printf("[Battle Module] HTTP server error: %v\n", err)
	}
}

// Run module run
func (m *BattleModule) Run(closeSig chan bool) {
	fmt.Println("[Battle Module] Started successfully")
	<-closeSig
}

// OnDestroy module destroy
func (m *BattleModule) OnDestroy() {
	// Stop cron tasks
	if m.sweeperTask != nil {
		m.sweeperTask.Stop()
		fmt.Println("[Battle Module] Cron tasks stopped")
	}

	// Close HTTP server
	if m.httpServer != nil {
		if err := m.httpServer.Close(); err != nil {
			fmt.Printf("[Battle Module] Failed to close HTTP server: %v\n", err)
		} else {
			fmt.Println("[Battle Module] HTTP server closed")
		}
	}

	// Close database connection
	if m.db != nil {
		if err := m.db.Close(); err != nil {
			fmt.Printf("[Battle Module] Failed to close database: %v\n", err)
		} else {
			fmt.Println("[Battle Module] Database connection closed")
		}
	}

	m.BaseModule.OnDestroy()
	fmt.Println("[Battle Module] Destroyed")
}

// Module creates Battle module instance
func Module() module.Module {
	return new(BattleModule)
}

// startDBPoolMonitoring 启动数据库连接池监控
// 每 30 秒报告一次连接池统计信息到 Prometheus
func (m *BattleModule) startDBPoolMonitoring(db *sql.DB) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats := db.Stats()

		metrics.DefaultResourceMetrics.RecordDBPoolStats(
			metrics.GetServiceName(),
			"postgres",
			stats.OpenConnections,
			stats.InUse,
			stats.Idle,
			25, // 与 SetMaxOpenConns 保持一致
		)
	}
}

// setupRPCMethods 注册 RPC 方法
// 供其他模块（如指令分发器）调用
func (m *BattleModule) setupRPCMethods() {
	m.GetServer().RegisterGO("GetActiveBattleCount", func() (int, string) {
		return m.battleService.ActiveBattleCount(), ""
	})
	m.GetServer().RegisterGO("GetOpponentKeys", func() ([]string, string) {
		return m.battleService.OpponentKeys(), ""
	})

	fmt.Println("[Battle Module] RPC methods registered:")
	fmt.Println("  ✓ GetActiveBattleCount - 获取进行中战斗数")
	fmt.Println("  ✓ GetOpponentKeys - 获取可挑战对手列表")
}

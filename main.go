package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/pwviptbl/AI-English-Mentor/internal/analysis"
	"github.com/pwviptbl/AI-English-Mentor/internal/chat"
	"github.com/pwviptbl/AI-English-Mentor/internal/config"
	"github.com/pwviptbl/AI-English-Mentor/internal/conversation"
	"github.com/pwviptbl/AI-English-Mentor/internal/database"
	"github.com/pwviptbl/AI-English-Mentor/internal/dictionary"
	"github.com/pwviptbl/AI-English-Mentor/internal/handlers"
	"github.com/pwviptbl/AI-English-Mentor/internal/logger"
	"github.com/pwviptbl/AI-English-Mentor/internal/metrics"
	"github.com/pwviptbl/AI-English-Mentor/internal/middleware"
	"github.com/pwviptbl/AI-English-Mentor/internal/providers"
	"github.com/pwviptbl/AI-English-Mentor/internal/quota"
	"github.com/pwviptbl/AI-English-Mentor/internal/router"
	"github.com/pwviptbl/AI-English-Mentor/internal/users"
)

func main() {
	// 加载环境变量
	if err := godotenv.Load(); err != nil {
		log.Println("没有找到 .env 文件，使用环境变量或默认值")
	}

	// 设置版本信息到 handlers 包
	handlers.SetVersionInfo(Version, BuildTime, GitCommit)

	// 初始化配置管理器
	envCfg := config.NewEnvConfig()

	// 初始化日志系统（必须在其他初始化之前）
	logCfg := &logger.Config{
		LogDir:     envCfg.LogDir,
		LogFile:    envCfg.LogFile,
		Rotation:   envCfg.LogRotation,
		MaxSize:    envCfg.LogMaxSize,
		MaxBackups: envCfg.LogMaxBackups,
		MaxAge:     envCfg.LogMaxAge,
		Compress:   envCfg.LogCompress,
		Console:    envCfg.LogToConsole,
	}
	if err := logger.Setup(logCfg); err != nil {
		log.Fatalf("初始化日志系统失败: %v", err)
	}

	// 初始化数据库（SQLite 默认，DATABASE_TYPE=postgresql 切换）
	db, err := database.New(database.ConfigFromEnv())
	if err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	defer db.Close()

	if err := database.WaitForDB(db, 30*time.Second); err != nil {
		log.Fatalf("等待数据库就绪失败: %v", err)
	}
	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("执行数据库迁移失败: %v", err)
	}

	// 初始化分级配额（先写入默认档位，再从库加载）
	tierStore := quota.NewDBTierStore(db)
	if err := tierStore.SeedDefaults(context.Background()); err != nil {
		log.Printf("⚠️ 写入默认档位限额失败: %v (将使用内置默认值)", err)
	}
	quotaGate := quota.NewDailyQuotaGate(quota.NewTierQuotaCache(tierStore))
	log.Printf("✅ 每日配额管理器已初始化")

	// 初始化 AI 后端配置管理器（providers.json 热更新）
	provManager, err := config.NewProvidersManager(".config/providers.json")
	if err != nil {
		log.Fatalf("初始化 AI 后端配置失败: %v", err)
	}
	defer provManager.Close()
	provManager.SetOnChange(func(s config.ProviderSettings) {
		log.Printf("🔄 [Providers] 配置已重载 (默认后端: %s)", s.DefaultProvider)
	})

	// 注册 AI 后端并构建调度路由器
	dispatchMetrics := metrics.NewManager()
	aiRouter := router.New(provManager.DefaultProvider)
	aiRouter.SetRecorder(dispatchMetrics)
	aiRouter.Register(providers.NewGeminiProvider(provManager))
	aiRouter.Register(providers.NewOllamaProvider(provManager))
	aiRouter.Register(providers.NewCopilotProvider(provManager))
	log.Printf("✅ AI 后端路由器已初始化 (默认后端: %s)", provManager.DefaultProvider())

	// 初始化存储与业务服务
	userStore := users.NewStore(db)
	convStore := conversation.NewStore(db)
	analysisSvc := analysis.NewService(analysis.NewResultCache(analysis.NewDBStore(db)), aiRouter)
	dictionarySvc := dictionary.NewService()
	orchestrator := chat.NewOrchestrator(aiRouter, convStore)
	log.Printf("✅ 对话编排器已初始化")

	// 设置 Gin 模式
	if envCfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由器（不使用 gin.Default() 以避免默认的 Logger 中间件产生大量日志）
	r := gin.New()
	r.Use(gin.Recovery()) // 只添加 Recovery 中间件，不添加 Logger

	// 🔒 配置可信代理（防止 IP 欺骗攻击）
	// 如果设置了 TRUSTED_PROXIES 环境变量，只信任指定的代理 IP
	// 如果未设置，在生产环境默认不信任任何代理（使用直连 IP）
	if len(envCfg.TrustedProxies) > 0 {
		if err := r.SetTrustedProxies(envCfg.TrustedProxies); err != nil {
			log.Printf("⚠️ 设置可信代理失败: %v", err)
		} else {
			log.Printf("✅ 已配置可信代理: %v", envCfg.TrustedProxies)
		}
	} else if envCfg.IsProduction() {
		if err := r.SetTrustedProxies(nil); err != nil {
			log.Printf("⚠️ 禁用可信代理失败: %v", err)
		} else {
			log.Printf("✅ 生产环境: 已禁用代理信任 (使用直连 IP)")
		}
	}
	// 开发环境保持 Gin 默认行为（信任所有代理）

	// 配置安全响应头（仅影响 Web 管理端点）
	r.Use(middleware.SecurityHeadersMiddleware())

	// 配置 CORS
	r.Use(middleware.CORSMiddleware(envCfg))

	// 按端点的 IP 速率限制
	rateLimiter := middleware.NewEndpointLimiter(envCfg)

	// 用户身份解析（Bearer token 或 X-User-Id 头）
	resolver := middleware.NewHeaderResolver(userStore)

	// 处理器
	chatHandler := handlers.NewChatHandler(orchestrator, convStore, quotaGate)
	analysisHandler := handlers.NewAnalysisHandler(analysisSvc, convStore, quotaGate)
	providersHandler := handlers.NewProvidersHandler(aiRouter, provManager, userStore)
	quotaHandler := handlers.NewQuotaHandler(quotaGate)
	tiersHandler := handlers.NewTierLimitsHandler(tierStore, quotaGate)
	dictionaryHandler := handlers.NewDictionaryHandler(dictionarySvc)
	usersHandler := handlers.NewUsersHandler(userStore, tierStore)

	// 🔒 健康检查端点（最小化响应，无需认证）
	r.GET(envCfg.HealthCheckPath, handlers.HealthCheck())
	r.GET("/api/health/details", handlers.HealthCheckDetailed(db))

	// 业务端点 - 统一入口（先认证再限流，按用户/IP 计数）
	v1Group := r.Group("/v1")
	v1Group.Use(middleware.UserMiddleware(resolver))
	{
		v1Group.POST("/chat/send", rateLimiter.Middleware("chat"), chatHandler.SendTurn)
		v1Group.POST("/chat/stream", rateLimiter.Middleware("chat"), chatHandler.StreamTurn)
		v1Group.POST("/messages/:id/analysis", rateLimiter.Middleware("analysis"), analysisHandler.AnalyzeMessage)
		v1Group.GET("/dictionary/lookup", rateLimiter.Middleware("lookup"), dictionaryHandler.Lookup)

		v1Group.GET("/providers", providersHandler.List)
		v1Group.PUT("/providers/preference", providersHandler.SetPreference)
		v1Group.GET("/quota", quotaHandler.Usage)
	}

	// 管理 API 路由
	apiGroup := r.Group("/api")
	apiGroup.Use(rateLimiter.Middleware("auth"))
	{
		apiGroup.GET("/tier-limits", tiersHandler.List)
		apiGroup.PUT("/tier-limits/:tier", tiersHandler.Update)
		apiGroup.PUT("/users/:id/tier", usersHandler.UpdateTier)
		apiGroup.GET("/backends/metrics", handlers.BackendMetrics(dispatchMetrics))
	}

	// 配置重载端点
	r.POST("/admin/providers/reload", providersHandler.Reload)

	// 启动服务器
	addr := fmt.Sprintf(":%d", envCfg.Port)
	fmt.Printf("\n🚀 AI English Mentor 服务器已启动\n")
	fmt.Printf("📌 版本: %s\n", Version)
	if BuildTime != "unknown" {
		fmt.Printf("🕐 构建时间: %s\n", BuildTime)
	}
	if GitCommit != "unknown" {
		fmt.Printf("🔖 Git提交: %s\n", GitCommit)
	}
	fmt.Printf("📍 API 地址: http://localhost:%d/v1\n", envCfg.Port)
	fmt.Printf("📋 对话: POST /v1/chat/send | POST /v1/chat/stream (SSE)\n")
	fmt.Printf("📋 句子分析: POST /v1/messages/:id/analysis\n")
	fmt.Printf("📋 词典查询: GET /v1/dictionary/lookup\n")
	fmt.Printf("💚 健康检查: GET %s\n", envCfg.HealthCheckPath)
	fmt.Printf("📊 环境: %s\n", envCfg.Env)
	fmt.Printf("\n")

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	// 优雅关闭：等待退出信号，给进行中的流式响应 10 秒收尾
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🛑 收到退出信号，正在关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ 服务器关闭超时: %v", err)
	}
	log.Println("✅ 服务器已关闭")
}

package main

import (
	"campusadmin/internal/database"
	"campusadmin/internal/handlers"
	"campusadmin/internal/identity"
	"campusadmin/internal/middleware"
	"campusadmin/internal/repository"
	"campusadmin/internal/router"
	"campusadmin/internal/services"
	"campusadmin/internal/storage"
	"campusadmin/pkg/config"
	"campusadmin/pkg/jwt"
	"campusadmin/pkg/logger"
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

func main() {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Initialize(cfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	appLogger := logger.GetLogger()
	appLogger.Info("Starting Campus Admin service...")

	// 初始化数据库
	if err := database.Initialize(cfg); err != nil {
		appLogger.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			appLogger.Error("Failed to close database:", err)
		}
		if err := database.CloseRedis(); err != nil {
			appLogger.Error("Failed to close Redis:", err)
		}
	}()

	if err := database.Migrate(); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	if err := database.PingRedis(startupCtx); err != nil {
		appLogger.Fatalf("Failed to connect Redis: %v", err)
	}

	db := database.GetDB()
	provider := identity.NewProvider(db, cfg.Identity.InitialSecretMinSize, appLogger)

	if err := seedData(startupCtx, cfg, provider); err != nil {
		appLogger.Fatalf("Failed to initialize seed data: %v", err)
	}

	gin.SetMode(cfg.Server.Mode)

	// 存储
	tenantRepo := repository.NewTenantRepository(db)
	adminRepo := repository.NewAdministratorRepository(db)
	eventRepo := repository.NewLifecycleEventRepository(db)
	profileRepo := repository.NewProfileRepository(database.GetRedis(), cfg.Redis.Prefix)

	// 头像存储未配置时跳过上传
	var avatars services.AvatarUploader
	if cfg.S3.Bucket != "" {
		avatarStore, err := storage.NewAvatarStore(startupCtx, cfg.S3, appLogger)
		if err != nil {
			appLogger.WithError(err).Warn("头像存储初始化失败，将跳过头像上传")
		} else {
			avatars = avatarStore
		}
	}

	// 业务服务
	catalog := services.NewPermissionCatalog()
	permissionService := services.NewPermissionService(catalog)
	tenantRegistry := services.NewTenantRegistry(tenantRepo, catalog, appLogger)
	adminService := services.NewAdminProvisioningService(services.ProvisioningDeps{
		Tenants:     tenantRegistry,
		TenantStore: tenantRepo,
		Admins:      adminRepo,
		Profiles:    profileRepo,
		Identities:  provider,
		Avatars:     avatars,
		Permissions: permissionService,
	}, cfg.Identity.InitialSecretMinSize, appLogger)

	endpointClient := identity.NewEndpointClient(cfg.Identity, appLogger)
	cascadeService := services.NewLifecycleCascadeService(tenantRepo, adminRepo, endpointClient, eventRepo, appLogger)

	// 一致性巡检
	auditor := services.NewConsistencyAuditor(tenantRepo, adminRepo, provider, cfg.Audit.Cron, appLogger)
	if cfg.Audit.Enabled {
		if err := auditor.Start(); err != nil {
			appLogger.Errorf("Failed to start consistency auditor: %v", err)
		}
		defer auditor.Stop()
	}

	// 路由
	tokenDuration, err := time.ParseDuration(cfg.JWT.TokenDuration)
	if err != nil {
		tokenDuration = 12 * time.Hour
	}
	jwtManager := jwt.NewJWTManager(cfg.JWT.SecretKey, tokenDuration)
	auth := middleware.NewAuthMiddleware(provider, jwtManager, cfg.Identity.ServiceKey)

	r := router.SetupRouter(cfg, auth, router.Handlers{
		Auth:          handlers.NewAuthHandler(provider, adminRepo, adminService, jwtManager, appLogger),
		Permission:    handlers.NewPermissionHandler(permissionService),
		Tenant:        handlers.NewTenantHandler(tenantRegistry, permissionService, cascadeService),
		Administrator: handlers.NewAdministratorHandler(adminService),
		Identity:      handlers.NewIdentityHandler(provider, appLogger),
		System:        handlers.NewSystemHandler(auditor),
	}, appLogger)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	appLogger.Infof("Server started on port %s", cfg.Server.Port)

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown:", err)
	}
	appLogger.Info("Server exited")
}

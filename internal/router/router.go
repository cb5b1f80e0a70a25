package router

import (
	"campusadmin/internal/handlers"
	"campusadmin/internal/middleware"
	"campusadmin/pkg/config"
	"campusadmin/pkg/response"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Auth          *handlers.AuthHandler
	Permission    *handlers.PermissionHandler
	Tenant        *handlers.TenantHandler
	Administrator *handlers.AdministratorHandler
	Identity      *handlers.IdentityHandler
	System        *handlers.SystemHandler
}

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, auth *middleware.AuthMiddleware, h Handlers, log *logrus.Logger) *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(middleware.RequestLogger(log))
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler(log))
	router.Use(middleware.SetupCORS(cfg.CORS))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	registerRoutes(router, auth, h)
	return router
}

// 注册所有路由
func registerRoutes(router *gin.Engine, auth *middleware.AuthMiddleware, h Handlers) {
	api := router.Group("/api/v1")
	{
		// 健康检查接口
		api.GET("/health", h.System.Health)
		api.GET("/ping", ping)

		authGroup := api.Group("/auth")
		{
			authGroup.POST("/login", h.Auth.Login)
			authGroup.POST("/rotate-secret", h.Auth.RotateSecret)
			authGroup.GET("/me", auth.RequireLogin(), h.Auth.Me)
		}

		permissions := api.Group("/permissions", auth.RequireLogin())
		{
			permissions.GET("/catalog", h.Permission.Catalog)
			permissions.POST("/normalize", h.Permission.Normalize)
		}

		tenants := api.Group("/tenants", auth.RequireLogin())
		{
			tenants.POST("", h.Tenant.Create)
			tenants.GET("", h.Tenant.GetAll)
			tenants.GET("/:id", h.Tenant.GetByID)
			tenants.PUT("/:id", h.Tenant.Update)
			tenants.DELETE("/:id", h.Tenant.Delete)

			tenants.GET("/:id/children", h.Tenant.Children)
			tenants.GET("/:id/capabilities", h.Tenant.Capabilities)

			// 启停联动
			tenants.POST("/:id/disable", h.Tenant.Disable)
			tenants.POST("/:id/enable", h.Tenant.Enable)
			tenants.GET("/:id/events", h.Tenant.Events)
		}

		administrators := api.Group("/administrators", auth.RequireLogin())
		{
			administrators.POST("", h.Administrator.Create)
			administrators.GET("", h.Administrator.GetAll)
			administrators.GET("/:id", h.Administrator.GetByID)
			administrators.PUT("/:id", h.Administrator.Update)
			administrators.DELETE("/:id", h.Administrator.Delete)
		}

		// 身份锁定端点，仅服务间调用
		identity := api.Group("/identity", auth.RequireServiceKey())
		{
			identity.POST("/disable", h.Identity.Disable)
			identity.POST("/enable", h.Identity.Enable)
		}

		audit := api.Group("/audit", auth.RequireLogin(), auth.RequireSuperOperator())
		{
			audit.GET("/report", h.System.AuditReport)
			audit.POST("/run", h.System.RunAudit)
		}
	}
}

func ping(c *gin.Context) {
	response.SuccessWithMessage(c, "pong", gin.H{"timestamp": time.Now()})
}

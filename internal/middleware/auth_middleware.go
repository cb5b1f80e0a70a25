package middleware

import (
	"campusadmin/internal/models"
	"campusadmin/internal/services"
	"campusadmin/pkg/jwt"
	"campusadmin/pkg/response"
	"context"
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
)

const operatorContextKey = "operator"

// IdentityLookup 校验令牌对应的身份仍然可用
type IdentityLookup interface {
	GetIdentity(ctx context.Context, identityID string) (*models.Identity, error)
}

// AuthMiddleware 认证中间件
type AuthMiddleware struct {
	identities IdentityLookup
	jwtManager *jwt.JWTManager
	serviceKey string
}

func NewAuthMiddleware(identities IdentityLookup, jwtManager *jwt.JWTManager, serviceKey string) *AuthMiddleware {
	return &AuthMiddleware{
		identities: identities,
		jwtManager: jwtManager,
		serviceKey: serviceKey,
	}
}

// RequireLogin 校验令牌并写入运营人员上下文
func (m *AuthMiddleware) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			response.Unauthorized(c, "认证头格式错误")
			c.Abort()
			return
		}

		claims, err := m.jwtManager.VerifyToken(authHeader[7:])
		if err != nil {
			response.Unauthorized(c, "Token无效或已过期")
			c.Abort()
			return
		}

		identity, err := m.identities.GetIdentity(c.Request.Context(), claims.IdentityID)
		if err != nil {
			response.Unauthorized(c, "登录身份不存在")
			c.Abort()
			return
		}

		// 被停用的管理员令牌立即失效
		if identity.Locked {
			response.Unauthorized(c, "账号已被停用")
			c.Abort()
			return
		}

		c.Set(operatorContextKey, services.OperatorContext{
			OperatorID:      claims.IdentityID,
			IdentityID:      claims.IdentityID,
			Email:           claims.Email,
			IsSuperOperator: identity.IsSuperOperator,
			TenantScope:     claims.TenantScope,
		})
		c.Set("claims", claims)

		c.Next()
	}
}

// RequireSuperOperator 要求超级运营
func (m *AuthMiddleware) RequireSuperOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		op, ok := Operator(c)
		if !ok {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		if !op.IsSuperOperator {
			response.Forbidden(c, "需要超级运营权限")
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireServiceKey 校验服务调用密钥，未配置密钥时拒绝全部请求
func (m *AuthMiddleware) RequireServiceKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Service-Key")
		if m.serviceKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(m.serviceKey)) != 1 {
			response.Unauthorized(c, "服务密钥无效")
			c.Abort()
			return
		}
		c.Next()
	}
}

// Operator 读取当前运营人员上下文
func Operator(c *gin.Context) (services.OperatorContext, bool) {
	value, exists := c.Get(operatorContextKey)
	if !exists {
		return services.OperatorContext{}, false
	}
	op, ok := value.(services.OperatorContext)
	return op, ok
}

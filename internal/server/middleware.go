package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

const (
	adminIDKey      = "admin_id"
	emergencyHeader = "X-Admin-Token"
)

// RequestLogger 请求日志中间件
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		}).Info("http request")
	}
}

// AdminAuth 管理员认证中间件
// 两种凭证：HS256 JWT(要求role=admin)，或紧急管理令牌头部精确匹配。
// 紧急令牌用于JWT签发方不可用时的运维逃生通道
func AdminAuth(jwtSecret, emergencyToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminID, ok := authenticate(c, jwtSecret, emergencyToken); ok {
			c.Set(adminIDKey, adminID)
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "admin authentication required",
		})
	}
}

// authenticate 返回管理员标识和是否通过
func authenticate(c *gin.Context, jwtSecret, emergencyToken string) (string, bool) {
	if emergencyToken != "" && c.GetHeader(emergencyHeader) == emergencyToken {
		return "emergency", true
	}

	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	if jwtSecret == "" {
		return "", false
	}

	tokenStr := strings.TrimPrefix(auth, "Bearer ")
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("意外的签名算法: %v", t.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return "", false
	}

	role, _ := claims["role"].(string)
	if role != "admin" {
		return "", false
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		sub = "admin"
	}
	return sub, true
}

// adminIdentity 从已通过认证的请求上下文取管理员标识
func adminIdentity(c *gin.Context) string {
	if v, exists := c.Get(adminIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// isAdmin 判断当前请求是否携带有效的管理员凭证
// 用于维护模式下的放行判断，不中断请求
func isAdmin(c *gin.Context, jwtSecret, emergencyToken string) bool {
	_, ok := authenticate(c, jwtSecret, emergencyToken)
	return ok
}

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mediq/model-gateway/pkg/types"
)

// RouteRequest 路由请求体
type RouteRequest struct {
	Feature      string `json:"feature" binding:"required"`
	Prompt       string `json:"prompt" binding:"required"`
	SystemPrompt string `json:"system_prompt"`
}

// EnterMaintenanceRequest 进入维护模式请求体
type EnterMaintenanceRequest struct {
	Level  string `json:"level" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// AddKeyRequest 添加密钥请求体
type AddKeyRequest struct {
	Provider string `json:"provider" binding:"required"`
	Feature  string `json:"feature" binding:"required"`
	Key      string `json:"key" binding:"required"`
	Priority int    `json:"priority"`
}

// HealthCheckRequest 按需健康探测请求体
type HealthCheckRequest struct {
	Provider string `json:"provider" binding:"required"`
	Feature  string `json:"feature" binding:"required"`
}

func (s *HTTPServer) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "model-gateway",
	})
}

func (s *HTTPServer) handleRoute(c *gin.Context) {
	var req RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	feature := types.Feature(req.Feature)
	if !types.ValidFeature(feature) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown feature: " + req.Feature})
		return
	}

	// 硬维护模式下只放行管理员请求
	status := s.maintenance.GetStatus()
	if status.InMaintenance && status.Level == types.MaintenanceHard {
		if !isAdmin(c, s.config.Admin.JWTSecret, s.config.Admin.EmergencyToken) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":       "service is under maintenance",
				"maintenance": status,
			})
			return
		}
	}

	prov, err := s.router.SelectProvider(feature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := s.router.ExecuteWithFallback(c.Request.Context(), prov, feature, req.Prompt, req.SystemPrompt)
	if !result.Success {
		// 具体的上游错误不外泄，只给出通用失败和当前维护状态
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":       "all providers are currently unavailable",
			"attempts":    result.Attempts,
			"maintenance": s.maintenance.GetStatus(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"content":     result.Content,
		"tokens_used": result.TokensUsed,
		"provider":    prov,
		"attempts":    result.Attempts,
	})
}

func (s *HTTPServer) handleMaintenanceStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.maintenance.GetStatus())
}

func (s *HTTPServer) handleMaintenanceEnter(c *gin.Context) {
	var req EnterMaintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	level := types.MaintenanceLevel(req.Level)
	if !types.ValidMaintenanceLevel(level) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid maintenance level: " + req.Level})
		return
	}

	status, err := s.maintenance.Enter(level, req.Reason, "", adminIdentity(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *HTTPServer) handleMaintenanceExit(c *gin.Context) {
	status, err := s.maintenance.Exit(adminIdentity(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *HTTPServer) handleAddKey(c *gin.Context) {
	var req AddKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	key, err := s.keys.AddKey(types.Provider(req.Provider), types.Feature(req.Feature), req.Key, req.Priority)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, key)
}

func (s *HTTPServer) handleListKeys(c *gin.Context) {
	keys, err := s.keys.ListKeys()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "total": len(keys)})
}

func (s *HTTPServer) handleDisableKey(c *gin.Context) {
	if err := s.keys.DisableKey(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"disabled": c.Param("id")})
}

func (s *HTTPServer) handleHealthCheck(c *gin.Context) {
	var req HealthCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	prov := types.Provider(req.Provider)
	feature := types.Feature(req.Feature)
	if !types.ValidProvider(prov) || !types.ValidFeature(feature) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider or feature"})
		return
	}

	key, err := s.keys.GetActiveKey(prov, feature)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if key == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active key for " + req.Provider + "/" + req.Feature})
		return
	}

	result := s.prober.CheckProviderHealth(c.Request.Context(), prov, key.ID, key.KeyValue, feature)
	c.JSON(http.StatusOK, gin.H{
		"key_id":           key.ID,
		"status":           result.Status,
		"response_time_ms": result.ResponseTimeMs,
		"error":            result.ErrorMessage,
	})
}

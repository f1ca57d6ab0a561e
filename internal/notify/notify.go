package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"github.com/mediq/model-gateway/pkg/types"
	"github.com/sirupsen/logrus"
)

// Result 单个投递目标的结果
type Result struct {
	Channel string `json:"channel"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Outcome 一次通知的汇总结果
// 通知失败只记录为失败条目，绝不向触发方抛错——触发通知的操作已经发生了
type Outcome struct {
	Sent          bool     `json:"sent"`
	EmailResults  []Result `json:"email_results"`
	WebhookResult *Result  `json:"webhook_result,omitempty"`
}

// smtpSendFunc 邮件发送函数，测试时可替换
type smtpSendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service 管理员通知服务
// 每个notify方法对所有配置的管理员邮箱逐个投递，外加一次webhook调用，
// 收集逐个结果返回
type Service struct {
	cfg        types.NotifyConfig
	httpClient *http.Client
	logger     *logrus.Logger
	smtpSend   smtpSendFunc
}

// NewService 创建通知服务
func NewService(cfg types.NotifyConfig, logger *logrus.Logger) *Service {
	return &Service{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		smtpSend:   smtp.SendMail,
	}
}

// NotifyAPIKeyFailure 密钥失败告警
func (s *Service) NotifyAPIKeyFailure(keyID string, provider types.Provider, feature types.Feature, errMsg string) *Outcome {
	subject := fmt.Sprintf("[模型网关] API密钥失败: %s/%s", provider, feature)
	body := fmt.Sprintf("密钥 %s (%s/%s) 调用失败。\n错误: %s\n时间: %s",
		keyID, provider, feature, errMsg, time.Now().UTC().Format(time.RFC3339))
	payload := map[string]interface{}{
		"event":    "api_key_failure",
		"key_id":   keyID,
		"provider": provider,
		"feature":  feature,
		"error":    errMsg,
	}
	return s.deliver(subject, body, payload)
}

// NotifyFallback 密钥切换告警
// 每次成功切换到低优先级密钥时触发一次，不是每次失败都触发
func (s *Service) NotifyFallback(fromKeyID, toKeyID string, provider types.Provider, feature types.Feature) *Outcome {
	subject := fmt.Sprintf("[模型网关] 密钥切换: %s/%s", provider, feature)
	body := fmt.Sprintf("功能 %s (%s) 已从密钥 %s 切换到备用密钥 %s。\n时间: %s",
		feature, provider, fromKeyID, toKeyID, time.Now().UTC().Format(time.RFC3339))
	payload := map[string]interface{}{
		"event":       "fallback",
		"from_key_id": fromKeyID,
		"to_key_id":   toKeyID,
		"provider":    provider,
		"feature":     feature,
	}
	return s.deliver(subject, body, payload)
}

// NotifyMaintenanceTriggered 维护模式触发告警
func (s *Service) NotifyMaintenanceTriggered(level types.MaintenanceLevel, reason string, feature types.Feature) *Outcome {
	subject := fmt.Sprintf("[模型网关] 进入%s维护模式", level)
	body := fmt.Sprintf("系统进入 %s 维护模式。\n原因: %s\n功能: %s\n时间: %s",
		level, reason, feature, time.Now().UTC().Format(time.RFC3339))
	payload := map[string]interface{}{
		"event":   "maintenance_triggered",
		"level":   level,
		"reason":  reason,
		"feature": feature,
	}
	return s.deliver(subject, body, payload)
}

// NotifyAdminOverride 管理员手工操作告警
func (s *Service) NotifyAdminOverride(adminID, action string, details map[string]string) *Outcome {
	subject := fmt.Sprintf("[模型网关] 管理员操作: %s", action)
	body := fmt.Sprintf("管理员 %s 执行了操作 %s。\n详情: %v\n时间: %s",
		adminID, action, details, time.Now().UTC().Format(time.RFC3339))
	payload := map[string]interface{}{
		"event":    "admin_override",
		"admin_id": adminID,
		"action":   action,
		"details":  details,
	}
	return s.deliver(subject, body, payload)
}

// deliver 逐个投递，吞掉所有投递错误
func (s *Service) deliver(subject, body string, payload map[string]interface{}) *Outcome {
	outcome := &Outcome{EmailResults: []Result{}}

	if !s.cfg.Enabled {
		return outcome
	}

	for _, email := range s.cfg.AdminEmails {
		result := s.sendEmail(email, subject, body)
		outcome.EmailResults = append(outcome.EmailResults, result)
		if result.Success {
			outcome.Sent = true
		} else {
			s.logger.Warnf("通知邮件发送失败 (%s): %s", email, result.Message)
		}
	}

	if s.cfg.WebhookEnabled && s.cfg.WebhookURL != "" {
		result := s.sendWebhook(payload)
		outcome.WebhookResult = &result
		if result.Success {
			outcome.Sent = true
		} else {
			s.logger.Warnf("通知webhook调用失败: %s", result.Message)
		}
	}

	return outcome
}

func (s *Service) sendEmail(to, subject, body string) Result {
	channel := "email:" + to

	if s.cfg.SMTP.Host == "" {
		return Result{Channel: channel, Success: false, Message: "SMTP未配置"}
	}

	from := s.cfg.SMTP.From
	if from == "" {
		from = s.cfg.SMTP.Username
	}

	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from, to, subject, body))

	var auth smtp.Auth
	if s.cfg.SMTP.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTP.Username, s.cfg.SMTP.Password, s.cfg.SMTP.Host)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.SMTP.Host, s.cfg.SMTP.Port)
	if err := s.smtpSend(addr, auth, from, []string{to}, msg); err != nil {
		return Result{Channel: channel, Success: false, Message: err.Error()}
	}
	return Result{Channel: channel, Success: true}
}

func (s *Service) sendWebhook(payload map[string]interface{}) Result {
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(payload)
	if err != nil {
		return Result{Channel: "webhook", Success: false, Message: err.Error()}
	}

	resp, err := s.httpClient.Post(s.cfg.WebhookURL, "application/json", bytes.NewReader(data))
	if err != nil {
		return Result{Channel: "webhook", Success: false, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{Channel: "webhook", Success: false, Message: fmt.Sprintf("webhook返回状态 %d", resp.StatusCode)}
	}
	return Result{Channel: "webhook", Success: true}
}

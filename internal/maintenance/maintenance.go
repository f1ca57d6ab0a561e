package maintenance

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mediq/model-gateway/internal/notify"
	"github.com/mediq/model-gateway/pkg/types"
	"github.com/sirupsen/logrus"
)

// SoftFailureThreshold 尚有active密钥但瞬时失败率过高时进入软维护的阈值
// 可调常量，不是硬性要求
const SoftFailureThreshold = 5

// FlagName 维护标志在system_flags中的名字
const FlagName = "maintenance_mode"

// FlagStore 维护标志与密钥池的存储接口
type FlagStore interface {
	GetSystemFlag(name string) (value string, ok bool, err error)
	SetSystemFlag(name, value, updatedBy string) error
	ListKeysByFeature(feature types.Feature) ([]*types.APIKey, error)
}

// Notifier 管理员通知接口
type Notifier interface {
	NotifyMaintenanceTriggered(level types.MaintenanceLevel, reason string, feature types.Feature) *notify.Outcome
	NotifyAdminOverride(adminID, action string, details map[string]string) *notify.Outcome
}

// Service 维护模式状态机
// 状态: NONE → SOFT → HARD；enter只允许升级，exit回到NONE
type Service struct {
	store    FlagStore
	notifier Notifier
	logger   *logrus.Logger
}

// NewService 创建维护服务
func NewService(store FlagStore, notifier Notifier, logger *logrus.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// EvaluateTrigger 评估功能的密钥池是否需要进入维护模式
// 返回空字符串表示无需动作
func (s *Service) EvaluateTrigger(feature types.Feature, failures int) (types.MaintenanceLevel, error) {
	keys, err := s.store.ListKeysByFeature(feature)
	if err != nil {
		return "", fmt.Errorf("查询功能 %s 的密钥失败: %w", feature, err)
	}

	if len(keys) == 0 {
		// 功能完全没有配置密钥
		s.logger.Warnf("功能 %s 没有配置任何密钥", feature)
		return types.MaintenanceSoft, nil
	}

	var active, degraded int
	for _, key := range keys {
		switch key.Status {
		case types.KeyStatusActive:
			active++
		case types.KeyStatusDegraded:
			degraded++
		}
	}

	// 所有密钥都不可用
	if active == 0 && degraded == 0 {
		s.logger.Errorf("功能 %s 的全部密钥均已失效", feature)
		return types.MaintenanceHard, nil
	}

	// 只剩降级密钥
	if active == 0 && degraded > 0 {
		s.logger.Warnf("功能 %s 只剩降级密钥", feature)
		return types.MaintenanceSoft, nil
	}

	// 尚有active密钥但失败率过高
	if failures >= SoftFailureThreshold {
		s.logger.Warnf("功能 %s 失败率过高 (failures=%d)", feature, failures)
		return types.MaintenanceSoft, nil
	}

	return "", nil
}

// Enter 进入维护模式
// 已处于同级或更高级维护时原样返回当前状态；soft→hard允许升级，绝不降级
func (s *Service) Enter(level types.MaintenanceLevel, reason string, feature types.Feature, triggeredBy string) (*types.MaintenanceStatus, error) {
	if !types.ValidMaintenanceLevel(level) {
		return nil, fmt.Errorf("无效的维护级别: %s (只能是soft或hard)", level)
	}

	current := s.GetStatus()
	if current.InMaintenance {
		if current.Level == types.MaintenanceSoft && level == types.MaintenanceHard {
			s.logger.Info("维护级别从soft升级到hard")
		} else {
			s.logger.Warnf("已处于%s维护模式，忽略进入%s的请求", current.Level, level)
			return current, nil
		}
	}

	now := time.Now().UTC()
	flag := types.MaintenanceFlag{
		Level:       level,
		Reason:      reason,
		Feature:     feature,
		TriggeredBy: triggeredBy,
		TriggeredAt: now,
		IsActive:    true,
	}

	data, err := json.Marshal(flag)
	if err != nil {
		return nil, fmt.Errorf("序列化维护标志失败: %w", err)
	}
	if err := s.store.SetSystemFlag(FlagName, string(data), triggeredBy); err != nil {
		return nil, err
	}

	s.logger.Infof("进入%s维护模式: %s", level, reason)

	// 通知失败不阻塞维护进入
	s.notifier.NotifyMaintenanceTriggered(level, reason, feature)

	return &types.MaintenanceStatus{
		InMaintenance: true,
		Level:         level,
		Reason:        reason,
		Feature:       feature,
		TriggeredBy:   triggeredBy,
		TriggeredAt:   &now,
	}, nil
}

// Exit 退出维护模式
// 未处于维护时是无动作；exitedBy非空(管理员手工退出)时发送override通知
func (s *Service) Exit(exitedBy string) (*types.MaintenanceStatus, error) {
	current := s.GetStatus()
	if !current.InMaintenance {
		s.logger.Info("当前不在维护模式，无需退出")
		return &types.MaintenanceStatus{InMaintenance: false}, nil
	}

	flag, err := s.readFlag()
	if err != nil || flag == nil {
		// 状态读不出来但GetStatus显示在维护中，直接写一个干净的退出标志
		flag = &types.MaintenanceFlag{Level: current.Level, Reason: current.Reason}
	}

	now := time.Now().UTC()
	flag.IsActive = false
	flag.ExitedAt = &now
	flag.ExitedBy = exitedBy

	data, err := json.Marshal(flag)
	if err != nil {
		return nil, fmt.Errorf("序列化维护标志失败: %w", err)
	}
	if err := s.store.SetSystemFlag(FlagName, string(data), exitedBy); err != nil {
		return nil, err
	}

	s.logger.Info("已退出维护模式")

	if exitedBy != "" {
		s.notifier.NotifyAdminOverride(exitedBy, "exit_maintenance", map[string]string{
			"previous_level":  string(current.Level),
			"previous_reason": current.Reason,
		})
	}

	return &types.MaintenanceStatus{
		InMaintenance: false,
		ExitedAt:      &now,
		ExitedBy:      exitedBy,
	}, nil
}

// GetStatus 读取当前维护状态
// 存储的标志缺失或损坏时按"不在维护中"处理——状态端点只读失败开放，绝不崩溃
func (s *Service) GetStatus() *types.MaintenanceStatus {
	flag, err := s.readFlag()
	if err != nil {
		s.logger.Errorf("解析维护标志失败: %v", err)
		return &types.MaintenanceStatus{InMaintenance: false}
	}
	if flag == nil || !flag.IsActive {
		return &types.MaintenanceStatus{InMaintenance: false}
	}

	triggeredAt := flag.TriggeredAt
	return &types.MaintenanceStatus{
		InMaintenance: true,
		Level:         flag.Level,
		Reason:        flag.Reason,
		Feature:       flag.Feature,
		TriggeredBy:   flag.TriggeredBy,
		TriggeredAt:   &triggeredAt,
	}
}

func (s *Service) readFlag() (*types.MaintenanceFlag, error) {
	value, ok, err := s.store.GetSystemFlag(FlagName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var flag types.MaintenanceFlag
	if err := json.Unmarshal([]byte(value), &flag); err != nil {
		return nil, fmt.Errorf("维护标志内容损坏: %w", err)
	}
	return &flag, nil
}

package health

import (
	"context"
	"fmt"
	"time"

	"github.com/mediq/model-gateway/pkg/types"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ActiveKeySource 提供后台检查要遍历的密钥(已解密)
type ActiveKeySource interface {
	GetAllActiveKeys(provider types.Provider, feature types.Feature) ([]*types.APIKey, error)
}

// Checker 后台定期健康检查
// 与在线流量并行运行，不占用请求处理路径；Stop()会等待本轮探测收尾
type Checker struct {
	keys      ActiveKeySource
	monitor   *Monitor
	providers []types.Provider
	interval  time.Duration
	logger    *logrus.Logger

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewChecker 创建后台检查器
func NewChecker(keys ActiveKeySource, monitor *Monitor, providers []types.Provider, interval time.Duration, logger *logrus.Logger) *Checker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Checker{
		keys:      keys,
		monitor:   monitor,
		providers: providers,
		interval:  interval,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start 启动定时任务
func (c *Checker) Start() error {
	if c.cron != nil {
		return fmt.Errorf("后台健康检查已在运行")
	}

	c.cron = cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	spec := fmt.Sprintf("@every %s", c.interval)
	if _, err := c.cron.AddFunc(spec, func() { c.RunOnce(c.ctx) }); err != nil {
		return fmt.Errorf("注册健康检查任务失败: %w", err)
	}

	c.cron.Start()
	c.logger.Infof("后台健康检查已启动, 间隔 %s", c.interval)
	return nil
}

// Stop 停止定时任务并取消在途探测
func (c *Checker) Stop() {
	c.cancel()
	if c.cron != nil {
		// Stop返回的context在运行中的任务结束后完成
		<-c.cron.Stop().Done()
		c.cron = nil
	}
	c.logger.Info("后台健康检查已停止")
}

// RunOnce 执行一轮全量探测：遍历所有提供商×功能下的active密钥
func (c *Checker) RunOnce(ctx context.Context) {
	checked := 0
	for _, prov := range c.providers {
		for _, feature := range types.AllFeatures {
			select {
			case <-ctx.Done():
				c.logger.Info("健康检查轮次被取消")
				return
			default:
			}

			keys, err := c.keys.GetAllActiveKeys(prov, feature)
			if err != nil {
				c.logger.Errorf("健康检查: 获取 %s/%s 的密钥失败: %v", prov, feature, err)
				continue
			}

			for _, key := range keys {
				select {
				case <-ctx.Done():
					c.logger.Info("健康检查轮次被取消")
					return
				default:
				}

				result := c.monitor.CheckProviderHealth(ctx, prov, key.ID, key.KeyValue, feature)
				checked++

				if result.Status == types.HealthStateFailed {
					if _, err := c.monitor.RecordFailure(key.ID, result.ErrorMessage, prov, feature); err != nil {
						c.logger.Errorf("健康检查: 记录密钥 %s 失败状态出错: %v", key.ID, err)
					}
				}
			}
		}
	}
	if checked > 0 {
		c.logger.Debugf("健康检查: 本轮共探测%d个密钥", checked)
	}
}

package cli

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mediq/model-gateway/pkg/types"
)

// ===== Server 命令处理器 =====

func (c *CLI) handleServer(args []string) error {
	if len(args) == 0 {
		printServerUsage()
		return nil
	}

	switch args[0] {
	case "start":
		return c.handleServerStart(args[1:])
	default:
		fmt.Printf("未知的server子命令: %s\n\n", args[0])
		printServerUsage()
		return fmt.Errorf("未知的server子命令: %s", args[0])
	}
}

func printServerUsage() {
	fmt.Println("用法: model-gateway server <subcommand>")
	fmt.Println()
	fmt.Println("子命令:")
	fmt.Println("  start      启动网关服务器")
}

func (c *CLI) handleServerStart(_ []string) error {
	a, err := c.ensureApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	cfg := a.Config.Get()
	if cfg.Health.Enabled {
		if err := a.Checker.Start(); err != nil {
			return fmt.Errorf("启动健康检查器失败: %w", err)
		}
		defer a.Checker.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.HTTPServer.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		a.Logger.Infof("收到信号 %s，服务器正在优雅关闭...", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HTTPServer.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("服务器优雅关闭失败: %w", err)
	}

	a.Logger.Info("服务器已关闭")
	return nil
}

// ===== Key 命令处理器 =====

func (c *CLI) handleKey(args []string) error {
	if len(args) == 0 {
		printKeyUsage()
		return nil
	}

	switch args[0] {
	case "add":
		return c.handleKeyAdd(args[1:])
	case "list":
		return c.handleKeyList(args[1:])
	case "disable":
		return c.handleKeyDisable(args[1:])
	default:
		fmt.Printf("未知的key子命令: %s\n\n", args[0])
		printKeyUsage()
		return fmt.Errorf("未知的key子命令: %s", args[0])
	}
}

func printKeyUsage() {
	fmt.Println("用法: model-gateway key <subcommand>")
	fmt.Println()
	fmt.Println("子命令:")
	fmt.Println("  add        添加提供商API密钥 (--provider --feature --key [--priority])")
	fmt.Println("  list       列出所有密钥(脱敏)")
	fmt.Println("  disable    禁用密钥 (<key-id>)")
}

func (c *CLI) handleKeyAdd(args []string) error {
	fs := flag.NewFlagSet("key add", flag.ContinueOnError)
	provider := fs.String("provider", "", "提供商名称 (gemini/openai/anthropic/ollama)")
	feature := fs.String("feature", "", "功能名称 (chat/flashcard/mcq/...)")
	key := fs.String("key", "", "明文API密钥，存储前加密")
	priority := fs.Int("priority", 0, "选取优先级，数值越大越优先")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *provider == "" {
		return fmt.Errorf("缺少必要参数: --provider")
	}
	if *feature == "" {
		return fmt.Errorf("缺少必要参数: --feature")
	}
	if *key == "" {
		return fmt.Errorf("缺少必要参数: --key")
	}

	a, err := c.ensureApp()
	if err != nil {
		return err
	}

	added, err := a.KeyStore.AddKey(types.Provider(*provider), types.Feature(*feature), *key, *priority)
	if err != nil {
		return fmt.Errorf("添加密钥失败: %w", err)
	}

	fmt.Printf("成功添加API密钥:\n")
	fmt.Printf("  ID:       %s\n", added.ID)
	fmt.Printf("  提供商:   %s\n", added.Provider)
	fmt.Printf("  功能:     %s\n", added.Feature)
	fmt.Printf("  优先级:   %d\n", added.Priority)
	fmt.Printf("  状态:     %s\n", added.Status)
	return nil
}

func (c *CLI) handleKeyList(_ []string) error {
	a, err := c.ensureApp()
	if err != nil {
		return err
	}

	keys, err := a.KeyStore.ListKeys()
	if err != nil {
		return fmt.Errorf("列出密钥失败: %w", err)
	}

	if len(keys) == 0 {
		fmt.Println("没有已配置的API密钥")
		return nil
	}

	fmt.Printf("%-36s %-10s %-10s %-8s %-8s %-6s %s\n",
		"ID", "提供商", "功能", "优先级", "状态", "失败", "密钥")
	for _, k := range keys {
		fmt.Printf("%-36s %-10s %-10s %-8d %-8s %-6d %s\n",
			k.ID, k.Provider, k.Feature, k.Priority, k.Status, k.FailureCount, k.KeyValue)
	}
	return nil
}

func (c *CLI) handleKeyDisable(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("缺少参数: <key-id>")
	}

	a, err := c.ensureApp()
	if err != nil {
		return err
	}

	if err := a.KeyStore.DisableKey(args[0]); err != nil {
		return fmt.Errorf("禁用密钥失败: %w", err)
	}

	fmt.Printf("密钥 %s 已禁用\n", args[0])
	return nil
}

// ===== Maintenance 命令处理器 =====

func (c *CLI) handleMaintenance(args []string) error {
	if len(args) == 0 {
		printMaintenanceUsage()
		return nil
	}

	switch args[0] {
	case "status":
		return c.handleMaintenanceStatus(args[1:])
	case "exit":
		return c.handleMaintenanceExit(args[1:])
	default:
		fmt.Printf("未知的maintenance子命令: %s\n\n", args[0])
		printMaintenanceUsage()
		return fmt.Errorf("未知的maintenance子命令: %s", args[0])
	}
}

func printMaintenanceUsage() {
	fmt.Println("用法: model-gateway maintenance <subcommand>")
	fmt.Println()
	fmt.Println("子命令:")
	fmt.Println("  status     查看当前维护状态")
	fmt.Println("  exit       手动退出维护模式 (--by=<admin-id>)")
}

func (c *CLI) handleMaintenanceStatus(_ []string) error {
	a, err := c.ensureApp()
	if err != nil {
		return err
	}

	status := a.Maintenance.GetStatus()
	if !status.InMaintenance {
		fmt.Println("系统未处于维护模式")
		return nil
	}

	fmt.Printf("维护模式: %s\n", status.Level)
	fmt.Printf("  原因:     %s\n", status.Reason)
	if status.Feature != "" {
		fmt.Printf("  功能:     %s\n", status.Feature)
	}
	if status.TriggeredBy != "" {
		fmt.Printf("  触发者:   %s\n", status.TriggeredBy)
	}
	if status.TriggeredAt != nil {
		fmt.Printf("  触发时间: %s\n", status.TriggeredAt.Format(time.RFC3339))
	}
	return nil
}

func (c *CLI) handleMaintenanceExit(args []string) error {
	fs := flag.NewFlagSet("maintenance exit", flag.ContinueOnError)
	by := fs.String("by", "cli", "操作者标识，记入退出审计")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := c.ensureApp()
	if err != nil {
		return err
	}

	status, err := a.Maintenance.Exit(*by)
	if err != nil {
		return fmt.Errorf("退出维护模式失败: %w", err)
	}

	if status.ExitedAt == nil {
		fmt.Println("系统本就不在维护模式")
		return nil
	}
	fmt.Println("已退出维护模式")
	return nil
}

// ===== GenKey 命令处理器 =====

// handleGenKey 生成新的32字节加密密钥并以base64输出
// 不依赖应用上下文，首次部署时用来产生ENCRYPTION_KEY
func (c *CLI) handleGenKey(_ []string) error {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("生成随机密钥失败: %w", err)
	}

	fmt.Println(base64.StdEncoding.EncodeToString(key))
	return nil
}

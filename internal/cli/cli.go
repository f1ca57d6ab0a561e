package cli

import (
	"fmt"

	"github.com/mediq/model-gateway/internal/app"
)

// CLI 命令行接口
// 应用上下文按需构建：genkey等不依赖配置的命令
// 在没有ENCRYPTION_KEY的环境里也要能运行
type CLI struct {
	configPath string
	app        *app.Application
	newApp     func(configPath string) (*app.Application, error)
}

// NewCLI 创建CLI
func NewCLI(configPath string) *CLI {
	return &CLI{
		configPath: configPath,
		newApp:     app.NewApplication,
	}
}

// ensureApp 延迟构建应用上下文
func (c *CLI) ensureApp() (*app.Application, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := c.newApp(c.configPath)
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

// Run 运行CLI，args为os.Args
func (c *CLI) Run(args []string) error {
	if len(args) < 2 {
		printUsage()
		return nil
	}

	command := args[1]
	switch command {
	case "server":
		return c.handleServer(args[2:])
	case "key":
		return c.handleKey(args[2:])
	case "maintenance":
		return c.handleMaintenance(args[2:])
	case "genkey":
		return c.handleGenKey(args[2:])
	default:
		fmt.Printf("未知命令: %s\n\n", command)
		printUsage()
		return fmt.Errorf("未知命令: %s", command)
	}
}

func printUsage() {
	fmt.Println("Model Gateway - 多提供商LLM密钥路由网关")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  model-gateway <command> [arguments]")
	fmt.Println()
	fmt.Println("可用命令:")
	fmt.Println("  server       服务器管理 (start)")
	fmt.Println("  key          提供商API密钥管理 (add/list/disable)")
	fmt.Println("  maintenance  维护模式管理 (status/exit)")
	fmt.Println("  genkey       生成新的base64加密密钥")
}

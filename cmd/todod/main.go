package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"SmartTodo/internal/config"
)

var configPath string

// main 是 SmartTodo 服务端的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "todod",
		Short:         "SmartTodo API 服务",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径（JSON/YAML/TOML），默认读取 "+config.EnvConfigPath)

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 与 WebSocket 服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	})
	root.AddCommand(migrateCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "todod 运行失败: %v\n", err)
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	var showStatus bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "执行数据库迁移",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if showStatus {
				return printMigrationStatus(cmd.Context(), cfg, cmd.OutOrStdout())
			}
			return migrate(cmd.Context(), cfg)
		},
	}
	cmd.Flags().BoolVar(&showStatus, "status", false, "只输出迁移状态，不执行")
	return cmd
}

// loadConfig 依次使用 --config、环境变量和默认值。
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv(config.EnvConfigPath)
	}
	if path == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(path)
}

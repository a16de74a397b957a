package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"SmartTodo/sdk/go/smarttodo"
)

var (
	serverURL string
	token     string
	userID    string
	tokenFile string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "todoctl",
		Short:         "SmartTodo 命令行客户端",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&serverURL, "server", envOr("SMARTTODO_SERVER", "http://127.0.0.1:8080"), "SmartTodo 服务地址")
	flags.StringVar(&token, "token", os.Getenv("SMARTTODO_TOKEN"), "访问令牌，默认读取 login 保存的令牌")
	flags.StringVar(&userID, "user", os.Getenv("SMARTTODO_USER"), "header 认证模式下的用户 ID")
	flags.StringVar(&tokenFile, "token-file", "", "令牌保存路径")

	root.AddCommand(
		loginCmd(),
		listCmd(),
		addCmd(),
		doneCmd(),
		editCmd(),
		rmCmd(),
		clearCmd(),
		statsCmd(),
		categoriesCmd(),
		importCmd(),
		watchCmd(),
	)
	return root
}

// newClient 按命令行参数构造 SDK 客户端。
func newClient() (*smarttodo.Client, error) {
	var opts []smarttodo.Option
	if userID != "" {
		opts = append(opts, smarttodo.WithHeader("X-User-ID", userID))
	}
	access := token
	if access == "" {
		saved, err := loadToken(tokenPath())
		if err != nil {
			return nil, err
		}
		if saved != nil {
			access = saved.AccessToken
		}
	}
	if access != "" {
		opts = append(opts, smarttodo.WithToken(access))
	}
	return smarttodo.NewClient(serverURL, opts...)
}

func tokenPath() string {
	if tokenFile != "" {
		return tokenFile
	}
	return defaultTokenPath()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

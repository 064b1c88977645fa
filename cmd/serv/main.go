package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-orz/orz"
	"github.com/spf13/cobra"
	"github.com/xuhao2004/kimochi/internal"
	"github.com/xuhao2004/kimochi/internal/config"
	"github.com/xuhao2004/kimochi/internal/service"
	"github.com/xuhao2004/kimochi/pkg/version"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "kimochi-server",
		Short: "Kimochi 账号服务",
		Long:  `Kimochi 账号服务，提供验证码、登录凭证、身份绑定、扫码登录与账号变更审批。`,
		Run: func(cmd *cobra.Command, args []string) {
			internal.Run(configFile)
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务",
		Run: func(cmd *cobra.Command, args []string) {
			internal.Run(configFile)
		},
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "同步数据库表结构",
		Run: func(cmd *cobra.Command, args []string) {
			runMigration(configFile)
		},
	}

	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "清理过期的扫码会话",
		Run: func(cmd *cobra.Command, args []string) {
			runCleanup(configFile)
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "显示版本号",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.GetVersion())
		},
	}
)

func init() {
	// 添加全局配置文件参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "./config.yaml", "配置文件路径")

	// 添加子命令
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap 初始化 orz 以获取数据库连接、日志与配置，不启用 HTTP 服务
func bootstrap(configPath string) (*gorm.DB, *zap.Logger, *config.AppConfig, error) {
	framework, err := orz.NewFramework(
		orz.WithConfig(configPath),
		orz.WithLoggerFromConfig(),
		orz.WithDatabase(),
	)
	if err != nil {
		return nil, nil, nil, err
	}
	app := framework.App()
	cfg, err := internal.LoadConfig(app)
	if err != nil {
		return nil, nil, nil, err
	}
	return app.GetDatabase(), app.Logger(), cfg, nil
}

// runMigration 同步表结构
func runMigration(configPath string) {
	fmt.Println("配置文件:", configPath)
	startTime := time.Now()
	if err := migrate(configPath); err != nil {
		log.Fatalf("迁移失败: %v", err)
	}
	fmt.Printf("✓ 表结构同步完成，耗时: %s\n", time.Since(startTime))
}

func migrate(configPath string) error {
	db, logger, _, err := bootstrap(configPath)
	if err != nil {
		return fmt.Errorf("初始化失败: %w", err)
	}
	if err := internal.AutoMigrate(db); err != nil {
		logger.Error("迁移失败", zap.Error(err))
		return err
	}
	return nil
}

// runCleanup 执行一次过期数据清理
func runCleanup(configPath string) {
	deleted, err := cleanup(context.Background(), configPath)
	if err != nil {
		log.Fatalf("清理失败: %v", err)
	}
	fmt.Printf("✓ 已清理 %d 个过期扫码会话\n", deleted)
}

func cleanup(ctx context.Context, configPath string) (int64, error) {
	db, logger, cfg, err := bootstrap(configPath)
	if err != nil {
		return 0, fmt.Errorf("初始化失败: %w", err)
	}
	deleted, err := service.NewCleanupService(logger, db, cfg.QRRetention()).Sweep(ctx)
	if err != nil {
		logger.Error("清理失败", zap.Error(err))
		return 0, err
	}
	return deleted, nil
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/liqprotocol/zo-keeper/internal/keeper"
	"github.com/liqprotocol/zo-keeper/pkg/config"
	"github.com/liqprotocol/zo-keeper/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	envFile := flag.String("env", ".env", "可选的 .env 文件")
	flag.Parse()

	// .env 不存在时忽略；已存在的环境变量不会被覆盖
	if p := strings.TrimSpace(*envFile); p != "" {
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err != nil {
				logrus.Fatalf("加载 %s 失败: %v", p, err)
			}
		}
	}

	if err := logger.InitDefault(); err != nil {
		logrus.Fatalf("初始化日志失败: %v", err)
	}

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputFile: cfg.LogFile,
		Compress:   true,
	}); err != nil {
		logrus.Fatalf("初始化日志失败: %v", err)
	}

	env, err := keeper.NewEnvironment(cfg)
	if err != nil {
		logrus.Fatalf("装配失败: %v", err)
	}

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	logrus.Info("🚀 清算机器人启动，按 Ctrl+C 停止")
	runErr := env.Run(rootCtx)
	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := env.Close(shutdownCtx); err != nil {
		logrus.Errorf("关闭失败: %v", err)
	}

	if runErr != nil {
		logrus.Errorf("❌ 清算机器人异常退出: %v", runErr)
		os.Exit(1)
	}
	logrus.Info("✅ 清算机器人已停止")
}

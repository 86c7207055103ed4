package main

import (
	"go.uber.org/zap"

	"github.com/taoyao-code/rfid-server/internal/app/bootstrap"
	cfgpkg "github.com/taoyao-code/rfid-server/internal/config"
	"github.com/taoyao-code/rfid-server/internal/logging"
)

func main() {
	// 1) 加载配置
	cfg, err := cfgpkg.Load("")
	if err != nil {
		panic(err)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	log := zap.L()

	// 3) 启动（阻塞到退出信号）
	if err := bootstrap.Run(cfg, log); err != nil {
		log.Fatal("server exited with error", zap.Error(err))
	}
}

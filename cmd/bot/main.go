package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/tnar/coincheck-rust/internal/account"
	"github.com/tnar/coincheck-rust/internal/coordinator"
	"github.com/tnar/coincheck-rust/internal/dashboard"
	"github.com/tnar/coincheck-rust/internal/exchange/coincheck"
	"github.com/tnar/coincheck-rust/internal/infrastructure/websocket"
	"github.com/tnar/coincheck-rust/internal/marketstate"
	"github.com/tnar/coincheck-rust/internal/metrics"
	"github.com/tnar/coincheck-rust/pkg/config"
	"github.com/tnar/coincheck-rust/pkg/logger"
	"github.com/tnar/coincheck-rust/pkg/persistence"
	"github.com/tnar/coincheck-rust/pkg/quantize"
	"github.com/tnar/coincheck-rust/pkg/secretstore"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json，可选）")
	envFile := flag.String("env", ".env", ".env 文件路径（不存在时忽略）")
	flag.Parse()

	if err := logger.InitDefault(); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		logrus.Warnf("读取 %s 失败: %v", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("加载配置失败: %v", err)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}); err != nil {
		fatalf("初始化日志失败: %v", err)
	}
	log := logger.WithRun()

	if !cfg.HasCredentials() && cfg.Credentials.SecretDB != "" {
		if err := loadCredentialsFromBadger(cfg); err != nil {
			fatalf("从 Badger 读取凭证失败: %v", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		fatalf("配置无效: %v", err)
	}

	params, err := quantize.NewParams(cfg.PriceIncrement, cfg.SizeIncrement)
	if err != nil {
		fatalf("精度参数无效: %v", err)
	}

	log.WithFields(logrus.Fields{
		"symbol":     cfg.Symbol,
		"order_size": cfg.OrderSize,
		"min_order":  cfg.MinOrderSize,
		"max_sell":   cfg.MaxSellSize(),
		"dry_run":    cfg.DryRun,
	}).Info("🚀 启动做市机器人")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := coincheck.NewClient(coincheck.Options{
		BaseURL:   cfg.RestBaseURL,
		Symbol:    cfg.Symbol,
		Params:    params,
		APIKey:    cfg.Credentials.APIKey,
		SecretKey: cfg.Credentials.SecretKey,
		Timeout:   cfg.HTTPTimeout,
	})

	state := account.New(account.Options{
		Symbol:       cfg.Symbol,
		Params:       params,
		OrderSize:    cfg.OrderSize,
		MinOrderSize: cfg.MinOrderSize,
		MaxSellSize:  cfg.MaxSellSize(),
		DryRun:       cfg.DryRun,
	}, client)

	store := coordinator.NewSnapshotStore(persistence.NewJSONFileService(cfg.StateDir), cfg.Symbol)
	if snap, err := coordinator.LoadSnapshot(store); err != nil {
		log.Warnf("读取上次快照失败: %v", err)
	} else if snap != nil {
		if orders := snap.Orders(); len(orders) > 0 {
			log.Warnf("⚠️ 上次运行（run=%s）留下 %d 个挂单，将由对账接管", snap.RunID, len(orders))
			state.Restore(orders)
		}
	}

	stream := websocket.NewMarketStream(websocket.Options{
		URL:            cfg.WSURL,
		Symbol:         cfg.Symbol,
		SubscribeDelay: cfg.SubscribeDelay,
	})
	if err := coordinator.Bootstrap(ctx, stream, client, state); err != nil {
		_ = stream.Close()
		fatalf("启动同步失败: %v", err)
	}

	board := marketstate.NewBoard()
	coord := coordinator.New(coordinator.Config{
		RunID:             logger.RunID(),
		ReconcileInterval: cfg.ReconcileInterval,
		ExecuteInterval:   cfg.ExecuteInterval,
		ShutdownTimeout:   cfg.ShutdownTimeout,
	}, state, stream, client).
		WithBoard(board).
		WithStore(store)

	if cfg.StatusAddr != "" {
		srv, err := metrics.StartAsync(ctx, cfg.StatusAddr, board.StateFunc())
		if err != nil {
			log.Warnf("状态服务启动失败: %v", err)
		} else {
			log.Infof("📊 状态服务: http://%s/api/state", cfg.StatusAddr)
			coord.OnShutdown("status-server", srv.Shutdown)
		}
	}

	if cfg.Dashboard {
		dash := dashboard.New(board, "Coincheck MM")
		if err := dash.Start(ctx); err != nil {
			log.Warnf("仪表板启动失败: %v", err)
		} else {
			coord.OnShutdown("dashboard", dash.Stop)
		}
	}

	if err := coord.Run(ctx); err != nil {
		fatalf("事件循环异常退出: %v", err)
	}
}

func loadCredentialsFromBadger(cfg *config.Config) error {
	key, err := secretstore.ParseKey(cfg.Credentials.SecretKEK)
	if err != nil {
		return err
	}
	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          cfg.Credentials.SecretDB,
		EncryptionKey: key,
		ReadOnly:      true,
	})
	if err != nil {
		return err
	}
	defer ss.Close()

	apiKey, secretKey, err := ss.Credentials(secretstore.DefaultPrefix)
	if err != nil {
		return err
	}
	cfg.Credentials.APIKey = apiKey
	cfg.Credentials.SecretKey = secretKey
	logrus.Infof("🔐 已从 Badger 读取 API 凭证: %s", cfg.Credentials.SecretDB)
	return nil
}

func fatalf(format string, args ...any) {
	logrus.Errorf(format, args...)
	os.Exit(1)
}

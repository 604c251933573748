package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/life2you_mini/dextrader/internal/config"
	"github.com/life2you_mini/dextrader/internal/logger"
	"github.com/life2you_mini/dextrader/internal/services"
	"github.com/life2you_mini/dextrader/internal/trading"
)

var (
	configFile = flag.String("config", "config/config.yaml", "配置文件路径")
	envFile    = flag.String("env", ".env", "环境变量文件路径")
)

const usage = `用法: dextrader [-config path] <command> [args]

命令:
  buy <token> <native>            用指定数量的原生币买入
  sell <token> <amount|N%|all>    卖出代币
  quote <token> <amount> buy|sell 预览最优路由
  position <token>                账本中的持仓
  positions                       扫描观察列表的浮动盈亏
  stats                           交易统计
  history [n] [token]             最近的交易记录
  init-config <path>              生成默认配置文件
  notify-worker                   启动通知投递进程
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmd := args[0]

	if cmd == "init-config" {
		if len(args) < 2 {
			fatalf("init-config 需要输出路径")
		}
		if err := config.SaveConfigToFile(config.GetDefaultConfig(), args[1]); err != nil {
			fatalf("生成配置失败: %v", err)
		}
		// 回读校验，确保生成的文件可以直接使用
		if _, err := config.LoadConfigFromYAML(args[1]); err != nil {
			fatalf("生成的配置无法通过校验: %v", err)
		}
		fmt.Printf("默认配置已写入 %s\n", args[1])
		return
	}

	// .env 不存在时只使用进程环境变量
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fatalf("加载环境变量文件失败: %v", err)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fatalf("加载配置失败: %v", err)
	}

	log, err := logger.NewLogger(logger.Options{
		Dir:        cfg.System.LogDir,
		Level:      cfg.System.LogLevel,
		MaxSizeMB:  cfg.System.LogMaxSizeMB,
		MaxBackups: cfg.System.LogMaxBackups,
		MaxAgeDays: cfg.System.LogMaxAgeDays,
		Console:    cmd == "notify-worker",
	})
	if err != nil {
		fatalf("初始化日志失败: %v", err)
	}
	defer log.Sync()
	log.Info("加载配置成功", zap.String("配置文件", *configFile), zap.String("command", cmd))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cmd == "notify-worker" {
		runNotifyWorker(ctx, cfg, log.Logger)
		return
	}

	service, err := services.NewDexTraderService(ctx, cfg, log.Logger)
	if err != nil {
		log.Error("创建服务失败", zap.Error(err))
		fatalf("创建服务失败: %v", err)
	}
	defer service.Close()

	if err := run(ctx, service, cmd, args[1:]); err != nil {
		log.Error("命令执行失败", zap.String("command", cmd), zap.Error(err))
		service.Close()
		fatalf("%v", err)
	}
}

func run(ctx context.Context, service *services.DexTraderService, cmd string, args []string) error {
	switch cmd {
	case "buy":
		if len(args) != 2 {
			return fmt.Errorf("用法: buy <token> <native>")
		}
		trader, err := service.Trader()
		if err != nil {
			return err
		}
		return printTrade(trader.Buy(ctx, args[0], args[1]))

	case "sell":
		if len(args) != 2 {
			return fmt.Errorf("用法: sell <token> <amount|N%%|all>")
		}
		trader, err := service.Trader()
		if err != nil {
			return err
		}
		return printTrade(trader.Sell(ctx, args[0], args[1]))

	case "quote":
		if len(args) != 3 || (args[2] != "buy" && args[2] != "sell") {
			return fmt.Errorf("用法: quote <token> <amount> buy|sell")
		}
		trader, err := service.Trader()
		if err != nil {
			return err
		}
		preview, terr := trader.Quote(ctx, args[0], args[1], args[2] == "buy")
		if terr != nil {
			return terr
		}
		return printJSON(preview)

	case "position":
		if len(args) != 1 {
			return fmt.Errorf("用法: position <token>")
		}
		pos := service.Positions().GetOpenPosition(ctx, args[0])
		if pos == nil {
			fmt.Println("账本中没有该代币的持仓")
			return nil
		}
		return printJSON(pos)

	case "positions":
		trader, err := service.Trader()
		if err != nil {
			return err
		}
		return printJSON(trader.ScanPositions(ctx))

	case "stats":
		return printJSON(service.Positions().GetStatistics(ctx))

	case "history":
		limit, token := 10, ""
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("无效的条数: %s", args[0])
			}
			limit = n
		}
		if len(args) > 1 {
			token = args[1]
		}
		return printJSON(service.Positions().TradeHistory(ctx, limit, token))

	default:
		flag.Usage()
		return fmt.Errorf("未知命令: %s", cmd)
	}
}

func runNotifyWorker(ctx context.Context, cfg *config.Config, logger *zap.Logger) {
	service, err := services.NewNotifyWorkerService(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("创建通知投递服务失败", zap.Error(err))
	}

	if err := service.Start(); err != nil {
		logger.Fatal("启动通知投递服务失败", zap.Error(err))
	}
	logger.Info("服务已启动")

	<-ctx.Done()
	logger.Info("接收到信号，准备关闭服务")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := service.Stop(shutdownCtx); err != nil {
		logger.Error("服务关闭失败", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("服务已优雅关闭")
}

// printTrade 输出交易结果，失败时返回错误以设置退出码
func printTrade(res *trading.TradeResult) error {
	if err := printJSON(res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%s: %w", res.Err.Kind.Message(), res.Err)
	}
	if res.LedgerWarning != "" {
		fmt.Fprintln(os.Stderr, "⚠️ "+res.LedgerWarning)
	}
	return nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化输出失败: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/circuitbot/internal/api"
	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/internal/events"
	"github.com/betbot/circuitbot/internal/journal"
	"github.com/betbot/circuitbot/internal/ladder"
	"github.com/betbot/circuitbot/internal/metrics"
	"github.com/betbot/circuitbot/internal/monitor"
	"github.com/betbot/circuitbot/internal/probe"
	"github.com/betbot/circuitbot/internal/registry"
	"github.com/betbot/circuitbot/internal/session"
	"github.com/betbot/circuitbot/internal/venue/ats"
	"github.com/betbot/circuitbot/internal/venue/tms"
	"github.com/betbot/circuitbot/pkg/config"
	"github.com/betbot/circuitbot/pkg/logger"
	"github.com/betbot/circuitbot/pkg/persistence"
	"github.com/betbot/circuitbot/pkg/ratelimit"
	"github.com/betbot/circuitbot/pkg/secretstore"
	sdkhttp "github.com/betbot/circuitbot/pkg/sdk/http"
	"github.com/betbot/circuitbot/pkg/shutdown"
)

func main() {
	// .env 可选，缺失时直接用真实环境变量
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CIRCUITBOT_CONFIG"), "配置文件路径（支持 .yaml, .yml, .json）")
	once := flag.Bool("once", false, "立即开始监控，下单完成后退出（不启动管理接口）")
	autoStart := flag.Bool("start", false, "启动后立即开始监控")
	flag.Parse()

	if err := logger.InitDefault(); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	path := *configPath
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		logrus.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Errorf("配置验证失败: %v", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   true,
		JSON:       cfg.Log.JSON,
	}); err != nil {
		logrus.Errorf("初始化日志失败: %v", err)
		os.Exit(1)
	}
	logrus.Infof("🚀 启动 circuitbot（配置: %s）", path)

	if err := run(cfg, *once, *autoStart || cfg.Monitor.AutoStart); err != nil {
		logrus.Errorf("❌ %v", err)
		_ = logger.Close()
		os.Exit(1)
	}
	_ = logger.Close()
}

func run(cfg *config.Config, once, autoStart bool) error {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	key, err := secretstore.ParseKey(cfg.SecretKey)
	if err != nil {
		return fmt.Errorf("解析 CIRCUITBOT_SECRET_KEY 失败: %w", err)
	}
	if key == nil {
		logrus.Warn("⚠️ 未设置 CIRCUITBOT_SECRET_KEY，会话存储不加密")
	}
	secrets, err := secretstore.Open(secretstore.OpenOptions{Path: cfg.Storage.SecretDB, EncryptionKey: key})
	if err != nil {
		return fmt.Errorf("打开会话存储失败: %w", err)
	}
	materials := session.NewSecretStore(secrets)
	sessions := session.NewManager(materials, 5*time.Minute, sdkhttp.Options{})

	logs := events.NewLogBuffer(events.DefaultLogCapacity)
	hub := events.NewHub()
	sinks := events.Multi{logs, hub}

	jrnl, err := journal.Open(cfg.Storage.JournalDB)
	if err != nil {
		logrus.Warnf("⚠️ 阶梯流水不可用: %v", err)
	} else {
		sinks = append(sinks, jrnl)
	}

	reg := registry.New(registry.Options{
		Store:       persistence.NewJSONFileService(cfg.Storage.StateDir).NewStore("registry", "snapshot"),
		Credentials: materials,
		Sink:        sinks,
	})
	if err := reg.Load(cfg); err != nil {
		return fmt.Errorf("加载注册表失败: %w", err)
	}

	timing := ladderTiming(cfg)
	engine := monitor.NewEngine(monitor.Options{
		Registry: reg,
		Limiter:  ratelimit.NewSlidingWindow(cfg.RateLimit.MaxRequests, cfg.RateLimitWindow),
		Sessions: sessions,
		Probers: map[domain.Venue]probe.Prober{
			domain.VenueTMS: tms.NewProber(sessions),
			domain.VenueATS: ats.NewProber(sessions),
		},
		Ladders: map[domain.Venue]ladder.Runner{
			domain.VenueTMS: tms.NewLadder(sessions, timing),
			domain.VenueATS: ats.NewLadder(sessions, timing),
		},
		Sink:              sinks,
		IdleWait:          cfg.IdleWait,
		ProbeTimeout:      cfg.ProbeTimeout,
		LadderMaxDuration: cfg.LadderMaxDuration,
	})

	if cfg.Metrics.Addr != "" {
		if _, err := metrics.StartAsync(rootCtx, cfg.Metrics.Addr); err != nil {
			logrus.Warnf("⚠️ 指标服务启动失败: %v", err)
		} else {
			logrus.Infof("📊 指标服务: %s", cfg.Metrics.Addr)
		}
	}

	a := &app{engine: engine, reg: reg, sessions: sessions, hub: hub, jrnl: jrnl, secrets: secrets}
	drain := time.Hour + time.Minute
	if cfg.LadderMaxDuration > 0 {
		drain = cfg.LadderMaxDuration + time.Minute
	}
	if !once {
		srv, err := api.New(api.Config{
			Registry: reg,
			Monitor:  engine,
			Logs:     logs,
			Journal:  journalOrNil(jrnl),
			Events:   hub,
			Token:    cfg.API.Token,
		})
		if err != nil {
			a.close(drain)
			return err
		}
		httpSrv := &http.Server{
			Addr:              cfg.API.Listen,
			Handler:           srv.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logrus.Infof("🌐 管理接口监听 %s", cfg.API.Listen)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.Errorf("http server error: %v", err)
			}
		}()
		a.httpSrv = httpSrv
	}

	if once || autoStart {
		if err := engine.Start(rootCtx); err != nil {
			if once {
				a.close(drain)
				return err
			}
			logrus.Errorf("❌ 自动启动监控失败: %v", err)
		}
	}

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer signal.Stop(stopCh)

	finished := make(chan struct{})
	if once {
		go func() {
			engine.Wait()
			close(finished)
		}()
	}

wait:
	for {
		select {
		case sig := <-stopCh:
			if sig == syscall.SIGHUP {
				if err := logger.Rotate(); err != nil {
					logrus.Warnf("日志轮转失败: %v", err)
				}
				continue
			}
			logrus.Infof("收到信号 %s，开始关停", sig)
			break wait
		case <-finished:
			logrus.Info("✅ 单次监控已完成")
			break wait
		}
	}

	a.close(drain)
	return nil
}

// closeTimeout 关闭存储阶段的上限，与等待阶梯分开计时
var closeTimeout = 30 * time.Second

type app struct {
	httpSrv  *http.Server
	engine   *monitor.Engine
	reg      *registry.Registry
	sessions *session.Manager
	hub      *events.Hub
	jrnl     *journal.Journal
	secrets  *secretstore.Store
}

// close 分两段关停
// 第一段停入口、停引擎并等待阶梯，最长 drain；第二段关闭存储，不论第一段是否超时都会执行
func (a *app) close(drain time.Duration) {
	stop := shutdown.NewManager()
	if a.httpSrv != nil {
		stop.OnShutdown("http", func(ctx context.Context) error {
			return a.httpSrv.Shutdown(ctx)
		})
	}
	stop.OnShutdown("monitor", a.engine.Stop)
	ctx, cancel := context.WithTimeout(context.Background(), drain)
	stop.Shutdown(ctx)
	cancel()
	if a.engine.Running() {
		logrus.Warnf("⚠️ 阶梯未在 %s 内结束，直接关闭存储", drain)
	}

	m := shutdown.NewManager()
	m.OnShutdown("registry", func(context.Context) error { return a.reg.Flush() })
	m.OnShutdown("events", func(context.Context) error {
		a.hub.Close()
		a.sessions.Stop()
		return nil
	})
	if a.jrnl != nil {
		m.OnShutdown("journal", func(context.Context) error { return a.jrnl.Close() })
	}
	m.OnShutdown("secretstore", func(context.Context) error { return a.secrets.Close() })

	ctx, cancel = context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	m.Shutdown(ctx)
}

func journalOrNil(j *journal.Journal) api.Journal {
	if j == nil {
		return nil
	}
	return j
}

func ladderTiming(cfg *config.Config) ladder.Timing {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return ladder.Timing{
		PollInterval:        ms(cfg.Ladder.PollMs),
		ErrorBackoff:        ms(cfg.Ladder.ErrorBackoffMs),
		RetryInterval:       ms(cfg.Ladder.RetryMs),
		WaitInterval:        ms(cfg.Ladder.WaitMs),
		UnavailableInterval: ms(cfg.Ladder.UnavailableWaitMs),
		MaxDuration:         cfg.LadderMaxDuration,
	}.WithDefaults()
}

// Package bootstrap 统一编排各组件的启动与关闭顺序。
package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/rfid-server/internal/app"
	cfgpkg "github.com/taoyao-code/rfid-server/internal/config"
	"github.com/taoyao-code/rfid-server/internal/httpserver"
	"github.com/taoyao-code/rfid-server/internal/metrics"
	"github.com/taoyao-code/rfid-server/internal/protocol/cf"
	"github.com/taoyao-code/rfid-server/internal/pushserver"
	"github.com/taoyao-code/rfid-server/internal/reader"
	"github.com/taoyao-code/rfid-server/internal/tagstore"
)

// Run 统一启动流程：指标 -> 标签缓存 -> 事件扇出 -> 读头/推送 -> HTTP。
// 阻塞到收到退出信号，随后按相反顺序优雅关闭。
func Run(cfg *cfgpkg.Config, log *zap.Logger) error {
	serverID := app.GenerateServerID()
	log.Info("starting rfid server",
		zap.String("server_id", serverID),
		zap.String("env", cfg.App.Env))

	// ========== 阶段1: 指标与就绪聚合 ==========
	reg := metrics.NewRegistry()
	appm := metrics.NewAppMetrics(reg)
	var components []string
	clientMode := readerEnabled(cfg.Reader)
	if clientMode {
		components = append(components, "reader")
	}
	if cfg.Push.Enable {
		components = append(components, "push")
	}
	ready := app.NewReady(components...)

	// ========== 阶段2: 标签缓存与后台清理 ==========
	store := tagstore.New(log,
		tagstore.WithMaxRecords(cfg.Store.MaxRecords),
		tagstore.WithObserver(app.NewStoreObserver(appm)))
	janitorCtx, janitorCancel := context.WithCancel(context.Background())
	defer janitorCancel()
	if cfg.Store.CleanupInterval > 0 {
		janitor := tagstore.NewJanitor(store, cfg.Store.TTL, cfg.Store.CleanupInterval, log)
		go janitor.Run(janitorCtx)
		log.Info("tagstore janitor started",
			zap.Duration("ttl", cfg.Store.TTL),
			zap.Duration("interval", cfg.Store.CleanupInterval))
	}

	// ========== 阶段3: 事件扇出与接入管线 ==========
	disp := app.NewDispatcher(log, func() { appm.CallbackFailures.Inc() })
	disp.Register(func(ev app.TagEvent) {
		log.Debug("tag event",
			zap.String("event", ev.ID),
			zap.String("source", ev.Source),
			zap.Int("tags", len(ev.Tags)))
	})
	ingest := app.NewIngestor(store, disp)

	// ========== 阶段4: 客户端模式（主动连读头）==========
	var sess *reader.Session
	if clientMode {
		sess = reader.NewSession(cfg.Reader, log, appm)
		sess.OnTags(func(source string, tags []cf.TagRecord) {
			ingest.HandleTags(source, "", tags)
		})
		ctx, cancel := context.WithTimeout(context.Background(), dialBudget(cfg.Reader))
		err := sess.Connect(ctx)
		cancel()
		if err != nil {
			log.Error("reader connect failed", zap.Error(err))
			return err
		}
		if info := sess.DeviceInfo(); info != nil {
			log.Info("reader connected",
				zap.String("conn_type", cfg.Reader.ConnType),
				zap.String("firmware", info.Version()))
		} else {
			log.Warn("reader connected in degraded state (device info unavailable)",
				zap.String("conn_type", cfg.Reader.ConnType))
		}
		if err := sess.StartScanning(); err != nil {
			log.Error("start scanning failed", zap.Error(err))
			_ = sess.Disconnect()
			return err
		}
		ready.Set("reader", true)
		log.Info("continuous inventory started")
	}

	// ========== 阶段5: 推送模式（读头主动建连）==========
	var pushSrv *pushserver.Server
	if cfg.Push.Enable {
		pushSrv = pushserver.New(cfg.Push, log)
		pushSrv.SetMetricsCallbacks(
			func() { appm.PushAccepted.Inc() },
			func(n int) { appm.BytesReceived.Add(float64(n)) },
			func(delta int) { appm.PushConnsGauge.Add(float64(delta)) },
			func() { appm.FrameTotal.WithLabelValues("crc_error").Inc() },
		)
		pushSrv.SetFrameHandler(func(remote string, fr *cf.Frame) {
			appm.FrameTotal.WithLabelValues("ok").Inc()
			switch fr.Cmd {
			case cf.CmdInventoryPush, cf.CmdInventoryOnce, cf.CmdStartInventory:
			default:
				return
			}
			tags, err := cf.ParseInventory(fr.Payload(), time.Now())
			if err != nil {
				log.Warn("push inventory payload malformed",
					zap.String("remote", remote), zap.Error(err))
			}
			if len(tags) == 0 {
				return
			}
			appm.TagsObserved.WithLabelValues("push").Add(float64(len(tags)))
			ingest.HandleTags("push", remote, tags)
		})
		if err := pushSrv.Start(); err != nil {
			log.Error("push listener start failed", zap.Error(err))
			if sess != nil {
				_ = sess.Disconnect()
			}
			return err
		}
		ready.Set("push", true)
		log.Info("push listener ready", zap.String("addr", cfg.Push.Addr))
	}

	// ========== 阶段6: HTTP 运维端点 ==========
	var metricsHandler http.Handler
	if cfg.Metrics.Enable {
		metricsHandler = metrics.Handler(reg)
	}
	httpSrv := httpserver.New(cfg.HTTP, cfg.Metrics.Path, metricsHandler, ready.Ready)
	httpSrv.Register(func(r *gin.Engine) {
		registerStatusRoutes(r, serverID, sess, store, pushSrv)
	})
	go func() {
		if err := httpSrv.Start(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", zap.Error(err))
		}
	}()
	log.Info("http server started", zap.String("addr", cfg.HTTP.Addr))
	log.Info("all services ready")

	// ========== 阶段7: 等待关闭信号 ==========
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("received shutdown signal, gracefully shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sess != nil {
		if err := sess.StopScanning(); err != nil {
			log.Warn("stop scanning failed", zap.Error(err))
		}
		_ = sess.Disconnect()
		log.Info("reader session closed")
	}
	if pushSrv != nil {
		_ = pushSrv.Shutdown(ctx)
		log.Info("push listener stopped")
	}
	_ = httpSrv.Shutdown(ctx)
	log.Info("http server stopped")

	log.Info("shutdown complete")
	return nil
}

// readerEnabled connType 为空或 none/off 时不跑客户端模式
func readerEnabled(cfg cfgpkg.ReaderConfig) bool {
	switch strings.ToLower(cfg.ConnType) {
	case "", "none", "off":
		return false
	}
	return true
}

func dialBudget(cfg cfgpkg.ReaderConfig) time.Duration {
	budget := cfg.DialTimeout + cfg.RequestTimeout
	if budget <= 0 {
		budget = 10 * time.Second
	}
	return budget + time.Second
}

// registerStatusRoutes /statusz 汇总会话状态与缓存计数，排障用
func registerStatusRoutes(r *gin.Engine, serverID string, sess *reader.Session, store *tagstore.Store, pushSrv *pushserver.Server) {
	r.GET("/statusz", func(c *gin.Context) {
		resp := gin.H{
			"server_id":   serverID,
			"unique_tags": store.UniqueCount(),
			"total_reads": store.TotalCount(),
		}
		if sess != nil {
			resp["reader_state"] = sess.State().String()
			if info := sess.DeviceInfo(); info != nil {
				resp["firmware"] = info.Version()
			}
		}
		if pushSrv != nil {
			resp["push_connections"] = pushSrv.ConnCount()
		}
		c.JSON(http.StatusOK, resp)
	})
	r.GET("/tags/recent", func(c *gin.Context) {
		tags := store.GetRecent(100)
		type tagView struct {
			EPC     string    `json:"epc"`
			RSSI    int       `json:"rssi"`
			Antenna int       `json:"antenna"`
			SeenAt  time.Time `json:"seen_at"`
		}
		out := make([]tagView, 0, len(tags))
		for _, tag := range tags {
			out = append(out, tagView{EPC: tag.EPC, RSSI: tag.RSSI, Antenna: tag.Antenna, SeenAt: tag.SeenAt})
		}
		c.JSON(http.StatusOK, gin.H{"count": len(out), "tags": out})
	})
}

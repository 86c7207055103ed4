package tagstore

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Janitor 周期性执行 TTL 清理的后台任务
type Janitor struct {
	store    *Store
	ttl      time.Duration
	interval time.Duration
	log      *zap.Logger
}

// NewJanitor 创建清理任务；interval<=0 时 Run 直接返回（关闭后台清理）。
func NewJanitor(store *Store, ttl, interval time.Duration, log *zap.Logger) *Janitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Janitor{store: store, ttl: ttl, interval: interval, log: log}
}

// Run 阻塞运行直到 ctx 取消
func (j *Janitor) Run(ctx context.Context) {
	if j.interval <= 0 || j.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := j.store.Cleanup(j.ttl); n > 0 {
				j.log.Info("evicted stale tags", zap.Int("count", n))
			}
		}
	}
}

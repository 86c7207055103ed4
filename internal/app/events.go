package app

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taoyao-code/rfid-server/internal/protocol/cf"
	"go.uber.org/zap"
)

// TagEvent 一批标签读取的对外事件
type TagEvent struct {
	ID     string         // 事件 ID（uuid）
	Source string         // scan | once | push
	Remote string         // 推送模式下的设备地址，客户端模式为空
	Tags   []cf.TagRecord //
	At     time.Time      //
}

// Callback 标签事件回调。下游（订单、闸机、推送等）在这里接出数据。
type Callback func(TagEvent)

// Dispatcher 观察者扇出。回调逐个执行，单个回调 panic 只记日志并计数，
// 绝不中断读循环，也不影响其余回调。
type Dispatcher struct {
	mu        sync.RWMutex
	callbacks []Callback
	log       *zap.Logger
	onFailure func()
}

// NewDispatcher 创建扇出器；onFailure 为回调失败计数（可为 nil）。
func NewDispatcher(log *zap.Logger, onFailure func()) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{log: log.With(zap.String("component", "dispatcher")), onFailure: onFailure}
}

// Register 注册回调，返回注册顺序号
func (d *Dispatcher) Register(cb Callback) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = append(d.callbacks, cb)
	return len(d.callbacks) - 1
}

// Len 已注册的回调数
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.callbacks)
}

// Dispatch 把一批标签包成事件扇出给全部回调
func (d *Dispatcher) Dispatch(source, remote string, tags []cf.TagRecord) {
	if len(tags) == 0 {
		return
	}
	ev := TagEvent{
		ID:     uuid.NewString(),
		Source: source,
		Remote: remote,
		Tags:   tags,
		At:     time.Now(),
	}
	d.mu.RLock()
	cbs := make([]Callback, len(d.callbacks))
	copy(cbs, d.callbacks)
	d.mu.RUnlock()

	for i, cb := range cbs {
		d.invoke(i, cb, ev)
	}
}

func (d *Dispatcher) invoke(idx int, cb Callback, ev TagEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("tag callback panicked",
				zap.Int("callback", idx),
				zap.String("event", ev.ID),
				zap.Any("panic", r))
			if d.onFailure != nil {
				d.onFailure()
			}
		}
	}()
	cb(ev)
}

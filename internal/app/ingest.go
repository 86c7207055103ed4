package app

import (
	"github.com/taoyao-code/rfid-server/internal/metrics"
	"github.com/taoyao-code/rfid-server/internal/protocol/cf"
	"github.com/taoyao-code/rfid-server/internal/tagstore"
)

// metricsObserver 把标签缓存的计数变化接到 Prometheus 指标
type metricsObserver struct {
	m *metrics.AppMetrics
}

func (o metricsObserver) OnUniqueCount(n int) { o.m.UniqueTagsGauge.Set(float64(n)) }
func (o metricsObserver) OnEvicted(n int)     { o.m.StoreEvictions.Add(float64(n)) }

// NewStoreObserver 创建指标观察者；m 为 nil 时返回 nil（缓存侧容忍 nil）
func NewStoreObserver(m *metrics.AppMetrics) tagstore.Observer {
	if m == nil {
		return nil
	}
	return metricsObserver{m: m}
}

// Ingestor 标签接入管线：入缓存，再扇出事件。
// 客户端模式（scan/once）与推送模式（push）的标签都汇到这里。
type Ingestor struct {
	store *tagstore.Store
	disp  *Dispatcher
}

// NewIngestor 创建接入管线
func NewIngestor(store *tagstore.Store, disp *Dispatcher) *Ingestor {
	return &Ingestor{store: store, disp: disp}
}

// HandleTags 处理一批标签；remote 仅推送模式有值
func (i *Ingestor) HandleTags(source, remote string, tags []cf.TagRecord) {
	if len(tags) == 0 {
		return
	}
	for _, tag := range tags {
		i.store.Add(tag)
	}
	if i.disp != nil {
		i.disp.Dispatch(source, remote, tags)
	}
}

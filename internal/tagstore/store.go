// Package tagstore 维护最近读到的标签的去重缓存。
// 扫描循环、推送连接与查询方并发访问，所有状态由单把互斥锁保护，
// 任何操作都不会在持锁期间做 I/O。
package tagstore

import (
	"sync"
	"time"

	"github.com/taoyao-code/rfid-server/internal/protocol/cf"
	"go.uber.org/zap"
)

// Observer 清理/计数变化的观察者（指标上报用，可为 nil）
type Observer interface {
	OnUniqueCount(n int)
	OnEvicted(n int)
}

// Store 标签缓存
type Store struct {
	mu sync.Mutex
	// records 按插入顺序保存每一次读取（同一 EPC 重复读取会重复记录）
	records []cf.TagRecord
	// lastSeen EPC -> 最近一次读取时间
	lastSeen map[string]time.Time
	// seen 唯一性账本；TTL 淘汰后 EPC 会再次被视为"新"
	seen map[string]struct{}

	maxRecords int
	obs        Observer
	log        *zap.Logger
	now        func() time.Time
}

// Option Store 构造选项
type Option func(*Store)

// WithMaxRecords 限制记录列表长度，超出淘汰最旧
func WithMaxRecords(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRecords = n
		}
	}
}

// WithObserver 安装观察者
func WithObserver(obs Observer) Option {
	return func(s *Store) { s.obs = obs }
}

// WithNow 注入时钟（测试用）
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

const defaultMaxRecords = 10000

// New 创建标签缓存
func New(log *zap.Logger, opts ...Option) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		lastSeen:   make(map[string]time.Time),
		seen:       make(map[string]struct{}),
		maxRecords: defaultMaxRecords,
		log:        log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add 写入一条读取记录，返回该 EPC 此前是否未出现过。
func (s *Store) Add(rec cf.TagRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.SeenAt.IsZero() {
		rec.SeenAt = s.now()
	}
	_, dup := s.seen[rec.EPC]
	s.seen[rec.EPC] = struct{}{}
	s.lastSeen[rec.EPC] = rec.SeenAt
	s.records = append(s.records, rec)
	if len(s.records) > s.maxRecords {
		// 只按条数裁剪列表，唯一性账本由 TTL 清理维护
		s.records = s.records[len(s.records)-s.maxRecords:]
	}
	s.notifyUnique()
	return !dup
}

// GetRecent 返回最近 n 条读取记录，最新在前。
func (s *Store) GetRecent(n int) []cf.TagRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || len(s.records) == 0 {
		return nil
	}
	if n > len(s.records) {
		n = len(s.records)
	}
	out := make([]cf.TagRecord, n)
	for i := 0; i < n; i++ {
		out[i] = s.records[len(s.records)-1-i]
	}
	return out
}

// UniqueCount 当前唯一 EPC 数
func (s *Store) UniqueCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// TotalCount 当前保留的读取记录条数
func (s *Store) TotalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// LastSeen 某 EPC 的最近读取时间
func (s *Store) LastSeen(epc string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastSeen[epc]
	return t, ok
}

// Cleanup 淘汰捕获时间早于 now-ttl 的记录，并用幸存记录重建唯一性账本，
// 保证两份结构的计数一致。返回淘汰的记录条数。
func (s *Store) Cleanup(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-ttl)
	kept := s.records[:0]
	for _, rec := range s.records {
		if rec.SeenAt.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	evicted := len(s.records) - len(kept)
	if evicted == 0 {
		return 0
	}
	s.records = kept

	s.seen = make(map[string]struct{}, len(kept))
	s.lastSeen = make(map[string]time.Time, len(kept))
	for _, rec := range kept {
		s.seen[rec.EPC] = struct{}{}
		if t, ok := s.lastSeen[rec.EPC]; !ok || rec.SeenAt.After(t) {
			s.lastSeen[rec.EPC] = rec.SeenAt
		}
	}
	if s.obs != nil {
		s.obs.OnEvicted(evicted)
	}
	s.notifyUnique()
	s.log.Debug("tag store cleanup", zap.Int("evicted", evicted), zap.Int("kept", len(kept)))
	return evicted
}

// Clear 清空全部状态（测试/复位用）
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.seen = make(map[string]struct{})
	s.lastSeen = make(map[string]time.Time)
	s.notifyUnique()
}

// 调用方必须已持锁
func (s *Store) notifyUnique() {
	if s.obs != nil {
		s.obs.OnUniqueCount(len(s.seen))
	}
}

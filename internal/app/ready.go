package app

import "sync"

// Ready 就绪状态聚合：声明的组件全部就绪后 /readyz 才放行
type Ready struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewReady 声明需要等待的组件名
func NewReady(components ...string) *Ready {
	flags := make(map[string]bool, len(components))
	for _, name := range components {
		flags[name] = false
	}
	return &Ready{flags: flags}
}

// Set 更新组件就绪状态
func (r *Ready) Set(name string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[name] = ok
}

// Ready 全部声明的组件就绪才返回 true
func (r *Ready) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ok := range r.flags {
		if !ok {
			return false
		}
	}
	return true
}

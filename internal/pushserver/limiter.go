package pushserver

import (
	"fmt"
	"sync/atomic"
)

// ConnLimiter 推送连接数上限（信号量）。
// 推送模式正常只有一两台读头接入，上限主要防扫描器/误配置打爆监听口。
type ConnLimiter struct {
	sem           chan struct{}
	maxConn       int
	activeCount   atomic.Int64
	rejectedCount atomic.Int64
}

// NewConnLimiter 创建连接限流器
func NewConnLimiter(maxConn int) *ConnLimiter {
	if maxConn <= 0 {
		maxConn = 64
	}
	return &ConnLimiter{sem: make(chan struct{}, maxConn), maxConn: maxConn}
}

// TryAcquire 非阻塞获取许可；设备重连风暴时直接拒绝而不是排队
func (l *ConnLimiter) TryAcquire() error {
	select {
	case l.sem <- struct{}{}:
		l.activeCount.Add(1)
		return nil
	default:
		l.rejectedCount.Add(1)
		return fmt.Errorf("connection limit exceeded: max=%d", l.maxConn)
	}
}

// Release 释放许可
func (l *ConnLimiter) Release() {
	select {
	case <-l.sem:
		l.activeCount.Add(-1)
	default:
	}
}

// Current 当前活跃连接数
func (l *ConnLimiter) Current() int { return int(l.activeCount.Load()) }

// RejectedCount 被拒绝的连接数（累计）
func (l *ConnLimiter) RejectedCount() int64 { return l.rejectedCount.Load() }

// Package pushserver 实现推送模式的接入端：读头主动建连并持续上报标签帧，
// 本端只收不问。每条连接独立持有一个流式解码器，与客户端模式的命令通道互不相干。
package pushserver

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	cfgpkg "github.com/taoyao-code/rfid-server/internal/config"
	"github.com/taoyao-code/rfid-server/internal/protocol/cf"
	"go.uber.org/zap"
)

// FrameHandler 每解出一帧回调一次；remote 为设备地址
type FrameHandler func(remote string, fr *cf.Frame)

// Server 推送模式 TCP 监听
type Server struct {
	cfg     cfgpkg.PushConfig
	log     *zap.Logger
	ln      net.Listener
	wg      sync.WaitGroup
	stopC   chan struct{}
	handler FrameHandler
	limiter *ConnLimiter
	accept  *rate.Limiter

	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	// 可选指标回调
	onAccept    func()
	onRecvBytes func(n int)
	onConnDelta func(delta int)
	onDecodeErr func()
}

// New 创建推送监听
func New(cfg cfgpkg.PushConfig, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	ratePerSec := cfg.AcceptRatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	burst := cfg.AcceptBurst
	if burst <= 0 {
		burst = ratePerSec * 2
	}
	return &Server{
		cfg:     cfg,
		log:     log.With(zap.String("component", "pushserver")),
		stopC:   make(chan struct{}),
		limiter: NewConnLimiter(cfg.MaxConnections),
		accept:  rate.NewLimiter(rate.Limit(ratePerSec), burst),
		conns:   make(map[net.Conn]struct{}),
	}
}

// SetFrameHandler 设置帧处理回调
func (s *Server) SetFrameHandler(h FrameHandler) { s.handler = h }

// SetMetricsCallbacks 设置指标回调
func (s *Server) SetMetricsCallbacks(onAccept func(), onRecvBytes func(int), onConnDelta func(int), onDecodeErr func()) {
	s.onAccept, s.onRecvBytes, s.onConnDelta, s.onDecodeErr = onAccept, onRecvBytes, onConnDelta, onDecodeErr
}

// Addr 实际监听地址（Start 之后有效，测试用 :0 时取真实端口）
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ConnCount 当前活跃的推送连接数
func (s *Server) ConnCount() int { return s.limiter.Current() }

// Start 监听并接受设备连接（非阻塞，内部 goroutine）
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.Info("push listener started", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.ln.Accept()
			if err != nil {
				select {
				case <-s.stopC:
					return
				default:
				}
				time.Sleep(50 * time.Millisecond)
				continue
			}
			if !s.accept.Allow() {
				s.log.Warn("accept rate exceeded, dropping connection",
					zap.String("remote", conn.RemoteAddr().String()))
				_ = conn.Close()
				continue
			}
			if err := s.limiter.TryAcquire(); err != nil {
				s.log.Warn("connection rejected", zap.Error(err),
					zap.String("remote", conn.RemoteAddr().String()))
				_ = conn.Close()
				continue
			}
			if s.onAccept != nil {
				s.onAccept()
			}
			if s.onConnDelta != nil {
				s.onConnDelta(1)
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.limiter.Release()
				defer func() {
					if s.onConnDelta != nil {
						s.onConnDelta(-1)
					}
				}()
				s.serveConn(c)
			}(conn)
		}
	}()
	return nil
}

// serveConn 单条设备连接的读循环：字节流 -> 解码器 -> 帧回调。
// 读超时只刷新期限继续等（读头没标签时长时间静默是常态）。
func (s *Server) serveConn(c net.Conn) {
	s.connMu.Lock()
	s.conns[c] = struct{}{}
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		delete(s.conns, c)
		s.connMu.Unlock()
	}()
	defer c.Close()
	remote := c.RemoteAddr().String()
	log := s.log.With(zap.String("remote", remote))
	log.Info("reader connected (push mode)")

	dec := cf.NewStreamDecoder(0)
	dec.SetOnError(func(err error) {
		log.Warn("frame dropped", zap.Error(err))
		if s.onDecodeErr != nil {
			s.onDecodeErr()
		}
	})

	readTimeout := s.cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 300 * time.Second
	}
	buf := make([]byte, 4096)
	for {
		select {
		case <-s.stopC:
			return
		default:
		}
		_ = c.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := c.Read(buf)
		if n > 0 {
			if s.onRecvBytes != nil {
				s.onRecvBytes(n)
			}
			for _, fr := range dec.Feed(buf[:n]) {
				if s.handler != nil {
					s.handler(remote, fr)
				}
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			log.Info("reader disconnected", zap.Error(err))
			return
		}
	}
}

// Shutdown 优雅关闭监听并等待连接退出
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stopC)
	if s.ln != nil {
		_ = s.ln.Close()
	}
	// 关闭在途连接，解除阻塞在 Read 上的 goroutine
	s.connMu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.connMu.Unlock()
	ch := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

package reader

import (
	"encoding/hex"
	"errors"
	"io"
	"net"
	"time"

	"github.com/taoyao-code/rfid-server/internal/protocol/cf"
	"go.uber.org/zap"
)

// Transport 一条到读头的点对点通道。命令路径与扫描路径共用同一个
// 帧级抽象：字节流在传输内部经 StreamDecoder 切帧，上层只见完整帧。
// 同一时刻只有一个 goroutine 持有传输（请求应答与扫描循环不交错）。
type Transport interface {
	// Send 发送一帧已编码的命令
	Send(raw []byte) error
	// ReadFrame 阻塞读取下一帧，超时返回 *TimeoutError
	ReadFrame(timeout time.Duration) (*cf.Frame, error)
	Close() error
}

// frameQueue 跨 ReadFrame 调用暂存同一次读取解出的多余帧
type frameQueue struct {
	frames []*cf.Frame
}

func (q *frameQueue) pop() *cf.Frame {
	if len(q.frames) == 0 {
		return nil
	}
	fr := q.frames[0]
	q.frames = q.frames[1:]
	return fr
}

func (q *frameQueue) push(frames []*cf.Frame) { q.frames = append(q.frames, frames...) }

// TCPTransport 客户端模式的 TCP 传输
type TCPTransport struct {
	conn     net.Conn
	dec      *cf.StreamDecoder
	queue    frameQueue
	sawFrame bool // 首帧之前才做文本协议嗅探
	onBytes  func(n int)
	log      *zap.Logger
}

// DialTCP 连接读头命令口
func DialTCP(addr string, dialTimeout time.Duration, log *zap.Logger) (*TCPTransport, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	return NewTCPTransport(conn, log), nil
}

// NewTCPTransport 包装一条已建立的连接
func NewTCPTransport(conn net.Conn, log *zap.Logger) *TCPTransport {
	if log == nil {
		log = zap.NewNop()
	}
	t := &TCPTransport{conn: conn, dec: cf.NewStreamDecoder(0), log: log}
	t.dec.SetOnError(func(err error) {
		log.Warn("frame dropped", zap.Error(err))
	})
	return t
}

// SetOnBytes 安装字节计数回调（指标）
func (t *TCPTransport) SetOnBytes(fn func(n int)) { t.onBytes = fn }

// Send 写出一帧
func (t *TCPTransport) Send(raw []byte) error {
	_, err := t.conn.Write(raw)
	if err != nil {
		return mapConnError(err)
	}
	return nil
}

// ReadFrame 读取下一帧。
// 超时与对端关闭分别映射为 *TimeoutError 与 ErrConnectionClosed；
// 首帧之前若收到 ASCII 文本（HTTP/JSON 应答），返回 *WrongProtocolError，
// 这是端口配错时最常见的症状，要能一眼定位。
func (t *TCPTransport) ReadFrame(timeout time.Duration) (*cf.Frame, error) {
	if fr := t.queue.pop(); fr != nil {
		return fr, nil
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 4096)
	for {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return nil, mapConnError(err)
		}
		n, err := t.conn.Read(buf)
		if n > 0 {
			if t.onBytes != nil {
				t.onBytes(n)
			}
			if !t.sawFrame && cf.LooksLikeText(buf[:n]) {
				prefix := buf[:n]
				if len(prefix) > 32 {
					prefix = prefix[:32]
				}
				return nil, &WrongProtocolError{Prefix: string(prefix)}
			}
			frames := t.dec.Feed(buf[:n])
			if len(frames) > 0 {
				t.sawFrame = true
				t.queue.push(frames[1:])
				return frames[0], nil
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, t.timeoutErr(timeout)
			}
			return nil, mapConnError(err)
		}
		if time.Now().After(deadline) {
			return nil, t.timeoutErr(timeout)
		}
	}
}

func (t *TCPTransport) timeoutErr(wait time.Duration) *TimeoutError {
	return &TimeoutError{
		Wait:     wait,
		Buffered: t.dec.Buffered(),
		Prefix:   bufferPrefix(t.dec),
	}
}

// Close 关闭连接；会解除任何在途读取的阻塞
func (t *TCPTransport) Close() error { return t.conn.Close() }

func bufferPrefix(dec *cf.StreamDecoder) string {
	n := dec.Buffered()
	if n == 0 {
		return ""
	}
	// 只为诊断展示截取前缀长度
	if n > 16 {
		n = 16
	}
	return hex.EncodeToString(dec.Peek(n))
}

func mapConnError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return ErrConnectionClosed
	}
	return err
}

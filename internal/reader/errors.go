package reader

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConnected 会话未连接
	ErrNotConnected = errors.New("reader not connected")
	// ErrConnectionClosed 对端关闭了连接
	ErrConnectionClosed = errors.New("connection closed by peer")
	// ErrBluetoothUnsupported 蓝牙传输是显式未实现的占位
	ErrBluetoothUnsupported = errors.New("bluetooth transport not implemented")
	// ErrUnknownConnType 未知连接类型（配置错误）
	ErrUnknownConnType = errors.New("unknown connection type")
	// ErrBusyScanning 扫描期间不允许发命令（同一连接上请求应答与读循环不交错）
	ErrBusyScanning = errors.New("scanning in progress, stop scanning before issuing commands")
)

// TimeoutError 命令在期限内没有等到完整应答。
// 连接保持打开，调用方可以重试；Buffered/Prefix 记录已到达但不完整的字节，
// 便于诊断（不再把半包当作结果返回）。
type TimeoutError struct {
	Wait     time.Duration
	Buffered int
	Prefix   string // 已缓冲字节的十六进制前缀，最多 16 字节
}

func (e *TimeoutError) Error() string {
	if e.Buffered > 0 {
		return fmt.Sprintf("request timed out after %v (%d bytes buffered, prefix %s)", e.Wait, e.Buffered, e.Prefix)
	}
	return fmt.Sprintf("request timed out after %v", e.Wait)
}

// Timeout 实现 net.Error 风格的判别
func (e *TimeoutError) Timeout() bool { return true }

// WrongProtocolError 对端回了文本协议（HTTP/JSON），大概率端口配错。
type WrongProtocolError struct {
	Prefix string
}

func (e *WrongProtocolError) Error() string {
	return fmt.Sprintf("peer speaks a text protocol, not CF binary (got %q) - check reader port", e.Prefix)
}

// DeviceError 帧结构合法但设备报了非零状态
type DeviceError struct {
	Cmd    uint16
	Status byte
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device rejected command 0x%04X with status 0x%02X", e.Cmd, e.Status)
}

// IsTimeout 判断是否为应答超时
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

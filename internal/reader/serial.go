package reader

import (
	"time"

	"github.com/tarm/serial"
	"github.com/taoyao-code/rfid-server/internal/protocol/cf"
	"go.uber.org/zap"
)

// SerialTransport 串口传输。tarm/serial 的超时在打开时固定，
// 这里用一个较短的口超时轮询，在 ReadFrame 内自己维护期限。
type SerialTransport struct {
	port    *serial.Port
	dec     *cf.StreamDecoder
	queue   frameQueue
	onBytes func(n int)
	log     *zap.Logger
}

// 单次串口读的轮询超时，决定 ReadFrame 检查期限的粒度
const serialPollTimeout = 100 * time.Millisecond

// OpenSerial 打开串口设备
func OpenSerial(path string, baud int, log *zap.Logger) (*SerialTransport, error) {
	if log == nil {
		log = zap.NewNop()
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        path,
		Baud:        baud,
		ReadTimeout: serialPollTimeout,
	})
	if err != nil {
		return nil, err
	}
	t := &SerialTransport{port: port, dec: cf.NewStreamDecoder(0), log: log}
	t.dec.SetOnError(func(err error) {
		log.Warn("frame dropped", zap.Error(err))
	})
	return t, nil
}

// Send 写出一帧
func (t *SerialTransport) Send(raw []byte) error {
	_, err := t.port.Write(raw)
	return err
}

// ReadFrame 读取下一帧。串口没有"对端关闭"概念，只有超时。
func (t *SerialTransport) ReadFrame(timeout time.Duration) (*cf.Frame, error) {
	if fr := t.queue.pop(); fr != nil {
		return fr, nil
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 1024)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			if t.onBytes != nil {
				t.onBytes(n)
			}
			frames := t.dec.Feed(buf[:n])
			if len(frames) > 0 {
				t.queue.push(frames[1:])
				return frames[0], nil
			}
		}
		if err != nil {
			return nil, err
		}
		// tarm/serial 口超时表现为 n==0, err==nil
		if time.Now().After(deadline) {
			return nil, &TimeoutError{
				Wait:     timeout,
				Buffered: t.dec.Buffered(),
				Prefix:   bufferPrefix(t.dec),
			}
		}
	}
}

// SetOnBytes 安装字节计数回调（指标）
func (t *SerialTransport) SetOnBytes(fn func(n int)) { t.onBytes = fn }

// Close 关闭串口
func (t *SerialTransport) Close() error { return t.port.Close() }

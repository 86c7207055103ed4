package cf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrBadHead    = errors.New("bad frame head")
	ErrShortFrame = errors.New("short frame")
	ErrBadCRC     = errors.New("crc mismatch")
)

// Parse 解析一帧（严格校验：帧头、长度、CRC）。
// raw 至少要包含一个完整帧；多余的尾部字节被忽略（流式场景由 StreamDecoder 精确切帧）。
func Parse(raw []byte) (*Frame, error) {
	if len(raw) < MinFrameLen {
		return nil, ErrShortFrame
	}
	if raw[0] != FrameHead {
		return nil, ErrBadHead
	}
	dataLen := int(raw[4])
	total := headerLen + dataLen + crcLen
	if len(raw) < total {
		return nil, ErrShortFrame
	}
	raw = raw[:total]
	if FrameCRC(raw) != CRC16(raw[:total-crcLen]) {
		return nil, ErrBadCRC
	}
	data := make([]byte, dataLen)
	copy(data, raw[headerLen:total-crcLen])
	return &Frame{
		Addr: raw[1],
		Cmd:  binary.BigEndian.Uint16(raw[2:4]),
		Data: data,
	}, nil
}

// StreamDecoder 处理半包/粘包的流式解码器。
// TCP 不保证消息边界：一帧可能被任意切分，多帧也可能合并到一次读取，
// 解码器跨 Feed 调用持有缓冲并在脏数据后重新同步。
type StreamDecoder struct {
	buf         []byte
	maxFrameLen int
	dropped     uint64
	onError     func(error)
}

// NewStreamDecoder 创建流式解码器。maxFrameLen 防止畸形长度字段撑爆缓冲。
func NewStreamDecoder(maxFrameLen int) *StreamDecoder {
	if maxFrameLen <= 0 {
		maxFrameLen = 4 * (MinFrameLen + MaxDataLen)
	}
	return &StreamDecoder{maxFrameLen: maxFrameLen}
}

// SetOnError 安装解码错误回调（CRC 失败等被丢弃的帧不允许无声消失）。
func (d *StreamDecoder) SetOnError(fn func(error)) { d.onError = fn }

// Dropped 因重新同步而丢弃的字节数（累计）。
func (d *StreamDecoder) Dropped() uint64 { return d.dropped }

// Buffered 当前缓冲的未消费字节数。
func (d *StreamDecoder) Buffered() int { return len(d.buf) }

// Peek 返回缓冲前 n 字节的副本（诊断用，不消费）。
func (d *StreamDecoder) Peek(n int) []byte {
	if n > len(d.buf) {
		n = len(d.buf)
	}
	out := make([]byte, n)
	copy(out, d.buf[:n])
	return out
}

func (d *StreamDecoder) drop(n int, err error) {
	d.buf = d.buf[n:]
	d.dropped += uint64(n)
	if err != nil && d.onError != nil {
		d.onError(err)
	}
}

// Feed 追加数据并尽可能解出多帧。
// 返回的帧不引用内部缓冲，调用方可以安全持有。
func (d *StreamDecoder) Feed(p []byte) []*Frame {
	if len(p) == 0 {
		return nil
	}
	d.buf = append(d.buf, p...)
	var frames []*Frame

	for {
		// 同步到下一个帧头，丢弃之前的脏字节
		start := bytes.IndexByte(d.buf, FrameHead)
		if start < 0 {
			if len(d.buf) > 0 {
				d.drop(len(d.buf), nil)
			}
			return frames
		}
		if start > 0 {
			d.drop(start, fmt.Errorf("resync: %d bytes before frame head", start))
		}
		if len(d.buf) < headerLen {
			// 还差 head..len 的字节，等待下一次 Feed
			return frames
		}
		total := headerLen + int(d.buf[4]) + crcLen
		if total > d.maxFrameLen {
			d.drop(1, fmt.Errorf("frame length %d exceeds limit %d", total, d.maxFrameLen))
			continue
		}
		if len(d.buf) < total {
			// 半包
			return frames
		}
		fr, err := Parse(d.buf[:total])
		if err != nil {
			// 校验失败只丢弃帧头一个字节，帧内可能嵌着下一帧的真实起点
			d.drop(1, err)
			continue
		}
		frames = append(frames, fr)
		d.buf = d.buf[total:]
		if len(d.buf) == 0 {
			return frames
		}
	}
}

// LooksLikeText 粗判首包是否为文本协议（HTTP/JSON 等）。
// 读头端口被配置成了 Web 端口时返回的是 ASCII 文本，用独立的错误类别快速定位。
func LooksLikeText(prefix []byte) bool {
	if len(prefix) == 0 || prefix[0] == FrameHead {
		return false
	}
	for _, pat := range [][]byte{[]byte("HTTP/"), []byte("GET "), []byte("POST "), []byte("{"), []byte("<")} {
		if bytes.HasPrefix(prefix, pat) {
			return true
		}
	}
	n := len(prefix)
	if n > 8 {
		n = 8
	}
	for _, b := range prefix[:n] {
		if b < 0x20 || b > 0x7E {
			return false
		}
	}
	return true
}

package reader

import (
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/taoyao-code/rfid-server/internal/protocol/cf"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// defaultSimEPCs 没有夹具文件时使用的 EPC 池
var defaultSimEPCs = []string{
	"E28011700000020F1A2B3C4D",
	"E28011700000020F1A2B3C4E",
	"300833B2DDD9014000000001",
	"300833B2DDD9014000000002",
	"E2003412012345678901ABCD",
}

// simFixture 模拟标签夹具文件结构
type simFixture struct {
	EPCs []string `yaml:"epcs"`
}

// LoadSimEPCs 从 yaml 夹具文件加载 EPC 池
func LoadSimEPCs(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sim fixture: %w", err)
	}
	var f simFixture
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse sim fixture: %w", err)
	}
	if len(f.EPCs) == 0 {
		return nil, fmt.Errorf("sim fixture %s has no epcs", path)
	}
	return f.EPCs, nil
}

// SimulatedTransport 无硬件开发用的假传输：不做任何 I/O，
// 命令立即成功应答，盘存开启后按固定间隔合成标签帧。
type SimulatedTransport struct {
	mu       sync.Mutex
	epcs     []string
	interval time.Duration
	addr     byte
	scanning bool
	pending  []*cf.Frame
	closeC   chan struct{}
	closed   bool
	rnd      *rand.Rand
	log      *zap.Logger
}

// NewSimulated 创建模拟传输；epcs 为空时使用内置池。
func NewSimulated(epcs []string, interval time.Duration, addr byte, log *zap.Logger) *SimulatedTransport {
	if len(epcs) == 0 {
		epcs = defaultSimEPCs
	}
	if interval <= 0 {
		interval = 300 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SimulatedTransport{
		epcs:     epcs,
		interval: interval,
		addr:     addr,
		closeC:   make(chan struct{}),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		log:      log,
	}
}

// Send 解析命令并立即排队一个成功应答
func (t *SimulatedTransport) Send(raw []byte) error {
	fr, err := cf.Parse(raw)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrConnectionClosed
	}

	switch fr.Cmd {
	case cf.CmdStartInventory:
		t.scanning = true
		t.queueOK(fr.Cmd, nil)
	case cf.CmdStopInventory:
		t.scanning = false
		t.queueOK(fr.Cmd, nil)
	case cf.CmdGetDeviceInfo:
		t.queueOK(fr.Cmd, cf.EncodeDeviceInfo(&cf.DeviceInfo{
			Addr: t.addr, VersionMajor: 9, VersionMinor: 99,
			AntennaMask: 0x0F, Power: 30, QValue: 4, Session: 1,
		}))
	case cf.CmdInventoryOnce:
		payload, _ := cf.EncodeInventory(t.randomTags())
		t.queueOK(fr.Cmd, payload)
	default:
		t.queueOK(fr.Cmd, nil)
	}
	return nil
}

// 调用方必须已持锁
func (t *SimulatedTransport) queueOK(cmd uint16, payload []byte) {
	raw, err := cf.BuildResponse(t.addr, cmd, cf.StatusOK, payload)
	if err != nil {
		t.log.Warn("simulated response build failed", zap.Error(err))
		return
	}
	fr, _ := cf.Parse(raw)
	if fr != nil {
		t.pending = append(t.pending, fr)
	}
}

// ReadFrame 返回排队的应答，扫描状态下按间隔合成盘存推送帧。
func (t *SimulatedTransport) ReadFrame(timeout time.Duration) (*cf.Frame, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	if len(t.pending) > 0 {
		fr := t.pending[0]
		t.pending = t.pending[1:]
		t.mu.Unlock()
		return fr, nil
	}
	scanning := t.scanning
	wait := t.interval
	t.mu.Unlock()

	if !scanning {
		select {
		case <-t.closeC:
			return nil, ErrConnectionClosed
		case <-time.After(timeout):
			return nil, &TimeoutError{Wait: timeout}
		}
	}
	if wait > timeout {
		wait = timeout
	}
	select {
	case <-t.closeC:
		return nil, ErrConnectionClosed
	case <-time.After(wait):
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrConnectionClosed
	}
	payload, err := cf.EncodeInventory(t.randomTags())
	if err != nil {
		return nil, err
	}
	raw, err := cf.BuildResponse(t.addr, cf.CmdInventoryPush, cf.StatusOK, payload)
	if err != nil {
		return nil, err
	}
	return cf.Parse(raw)
}

// 调用方必须已持锁
func (t *SimulatedTransport) randomTags() []cf.TagRecord {
	n := 1 + t.rnd.Intn(2)
	tags := make([]cf.TagRecord, 0, n)
	for i := 0; i < n; i++ {
		tags = append(tags, cf.TagRecord{
			EPC:     t.epcs[t.rnd.Intn(len(t.epcs))],
			RSSI:    -40 - t.rnd.Intn(41),
			Antenna: 1 + t.rnd.Intn(4),
			PC:      0x3000,
			CRC:     uint16(t.rnd.Intn(0x10000)),
			SeenAt:  time.Now(),
		})
	}
	return tags
}

// Close 关闭传输，解除在途 ReadFrame 的阻塞
func (t *SimulatedTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.closeC)
	}
	return nil
}

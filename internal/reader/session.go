package reader

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taoyao-code/rfid-server/internal/config"
	"github.com/taoyao-code/rfid-server/internal/metrics"
	"github.com/taoyao-code/rfid-server/internal/protocol/cf"
	"go.uber.org/zap"
)

// State 会话状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateScanning
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateScanning:
		return "scanning"
	}
	return "unknown"
}

// TagHandler 标签读取回调；source 为 scan|once
type TagHandler func(source string, tags []cf.TagRecord)

// Session 读头会话状态机（客户端模式）。
// 独占持有传输；请求应答与扫描循环绝不在同一连接上交错：
// 扫描期间发命令会得到 ErrBusyScanning，先停扫。
type Session struct {
	cfg config.ReaderConfig
	log *zap.Logger
	m   *metrics.AppMetrics // 可为 nil

	mu         sync.Mutex // 串行化全部状态迁移操作
	state      atomic.Int32
	tr         Transport
	info       *cf.DeviceInfo
	onTags     TagHandler
	scanCancel context.CancelFunc
	scanWG     sync.WaitGroup
}

// NewSession 创建会话；m 可为 nil（测试）。
func NewSession(cfg config.ReaderConfig, log *zap.Logger, m *metrics.AppMetrics) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{cfg: cfg, log: log.With(zap.String("component", "reader")), m: m}
}

// State 当前状态（无锁查询）
func (s *Session) State() State { return State(s.state.Load()) }

// IsConnected 是否已连接（含扫描中）
func (s *Session) IsConnected() bool {
	st := s.State()
	return st == StateConnected || st == StateScanning
}

// IsScanning 是否在扫描
func (s *Session) IsScanning() bool { return s.State() == StateScanning }

// DeviceInfo 连接探测到的设备信息，可能为 nil（探测失败的降级连接）
func (s *Session) DeviceInfo() *cf.DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// OnTags 安装标签回调（连接前安装）
func (s *Session) OnTags(h TagHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTags = h
}

// Connect 按配置的连接类型建立传输。
// TCP 连接后会发一次设备信息探测确认协议；探测失败只告警不拒连
// （部分固件不应答信息命令，按降级可用处理）。幂等：已连接直接返回。
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tr != nil {
		return nil
	}
	s.state.Store(int32(StateConnecting))

	var (
		tr  Transport
		err error
	)
	switch strings.ToLower(s.cfg.ConnType) {
	case "tcp":
		addr := fmt.Sprintf("%s:%d", s.cfg.Addr, s.cfg.Port)
		tr, err = DialTCP(addr, s.cfg.DialTimeout, s.log)
	case "serial":
		tr, err = OpenSerial(s.cfg.SerialPath, s.cfg.SerialBaud, s.log)
	case "simulated":
		var epcs []string
		if s.cfg.SimFixture != "" {
			if epcs, err = LoadSimEPCs(s.cfg.SimFixture); err != nil {
				s.log.Warn("sim fixture load failed, using builtin pool", zap.Error(err))
				epcs, err = nil, nil
			}
		}
		tr = NewSimulated(epcs, s.cfg.SimInterval, s.cfg.DeviceAddr, s.log)
	case "bluetooth":
		err = ErrBluetoothUnsupported
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownConnType, s.cfg.ConnType)
	}
	if err != nil {
		s.state.Store(int32(StateDisconnected))
		return err
	}
	if mt, ok := tr.(interface{ SetOnBytes(func(int)) }); ok && s.m != nil {
		mt.SetOnBytes(func(n int) { s.m.BytesReceived.Add(float64(n)) })
	}
	s.tr = tr
	s.state.Store(int32(StateConnected))

	// 协议兼容性探测
	if fr, perr := s.requestLocked(cf.CmdGetDeviceInfo, nil, s.cfg.RequestTimeout); perr != nil {
		s.log.Warn("device info probe failed, connection degraded", zap.Error(perr))
	} else {
		s.info = cf.ParseDeviceInfo(fr.Payload())
		s.log.Info("reader connected",
			zap.String("connType", s.cfg.ConnType),
			zap.String("version", s.info.Version()),
			zap.Uint8("power", s.info.Power))
	}
	return nil
}

// Request 发送一条命令并等待应答帧。
// 应答状态非零映射为 *DeviceError；超时保留连接供重试；
// 对端关闭则拆除会话并回到 Disconnected。
func (s *Session) Request(cmd uint16, data []byte, timeout time.Duration) (*cf.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestLocked(cmd, data, timeout)
}

func (s *Session) requestLocked(cmd uint16, data []byte, timeout time.Duration) (*cf.Frame, error) {
	if s.tr == nil {
		return nil, ErrNotConnected
	}
	if s.State() == StateScanning {
		return nil, ErrBusyScanning
	}
	if timeout <= 0 {
		timeout = s.cfg.RequestTimeout
	}

	raw, err := cf.Build(s.cfg.DeviceAddr, cmd, data)
	if err != nil {
		return nil, err
	}
	if err := s.tr.Send(raw); err != nil {
		return nil, s.afterTransportErr(cmd, err)
	}

	deadline := time.Now().Add(timeout)
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			s.countCmd(cmd, "timeout")
			return nil, &TimeoutError{Wait: timeout}
		}
		fr, err := s.tr.ReadFrame(remain)
		if err != nil {
			return nil, s.afterTransportErr(cmd, err)
		}
		if fr.Cmd != cmd {
			// 迟到的推送帧，不属于本次请求
			s.log.Debug("skipping unsolicited frame during request",
				zap.String("cmd", cmdLabel(fr.Cmd)))
			continue
		}
		if !fr.IsOK() {
			s.countCmd(cmd, "device_error")
			return nil, &DeviceError{Cmd: cmd, Status: fr.Status()}
		}
		s.countCmd(cmd, "ok")
		return fr, nil
	}
}

// afterTransportErr 统一处理传输层错误：连接丢失要拆会话
func (s *Session) afterTransportErr(cmd uint16, err error) error {
	if IsTimeout(err) {
		s.countCmd(cmd, "timeout")
		return err
	}
	s.countCmd(cmd, "error")
	if err == ErrConnectionClosed {
		s.teardownLocked()
	}
	return err
}

// StartScanning 启动连续盘存并拉起后台读循环。已在扫描则为幂等成功。
func (s *Session) StartScanning() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateScanning {
		return nil
	}
	if s.tr == nil {
		return ErrNotConnected
	}
	if _, err := s.requestLocked(cf.CmdStartInventory, nil, s.cfg.RequestTimeout); err != nil {
		return fmt.Errorf("start inventory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.scanCancel = cancel
	s.state.Store(int32(StateScanning))
	s.scanWG.Add(1)
	go s.scanLoop(ctx, s.tr)
	s.log.Info("scanning started")
	return nil
}

// scanLoop 后台读循环：收帧 -> 解析标签 -> 回调。
// 取消在两次读之间协作式生效；读超时只是检查取消的机会，不是错误。
func (s *Session) scanLoop(ctx context.Context, tr Transport) {
	defer s.scanWG.Done()
	readTimeout := s.cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 500 * time.Millisecond
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		fr, err := tr.ReadFrame(readTimeout)
		if err != nil {
			if IsTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("scan loop lost connection", zap.Error(err))
			s.mu.Lock()
			s.teardownLocked()
			s.mu.Unlock()
			return
		}
		s.handleScanFrame(fr, "scan")
	}
}

func (s *Session) handleScanFrame(fr *cf.Frame, source string) {
	switch fr.Cmd {
	case cf.CmdInventoryPush, cf.CmdInventoryOnce, cf.CmdStartInventory:
	default:
		s.log.Debug("ignoring non-inventory frame", zap.String("cmd", cmdLabel(fr.Cmd)))
		return
	}
	tags, err := cf.ParseInventory(fr.Payload(), time.Now())
	if err != nil {
		s.log.Warn("inventory payload malformed", zap.Error(err))
	}
	if len(tags) == 0 {
		return
	}
	if s.m != nil {
		s.m.TagsObserved.WithLabelValues(source).Add(float64(len(tags)))
	}
	s.mu.Lock()
	h := s.onTags
	s.mu.Unlock()
	if h != nil {
		h(source, tags)
	}
}

// StopScanning 停止扫描。未在扫描则为幂等成功。
// 本地状态不等待设备确认：停扫命令只尽力发送一次。
func (s *Session) StopScanning() error {
	s.mu.Lock()
	if s.State() != StateScanning {
		s.mu.Unlock()
		return nil
	}
	cancel := s.scanCancel
	s.scanCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.scanWG.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr == nil {
		// 读循环可能因连接丢失已拆除会话
		return nil
	}
	s.state.Store(int32(StateConnected))
	if raw, err := cf.Build(s.cfg.DeviceAddr, cf.CmdStopInventory, nil); err == nil {
		if err := s.tr.Send(raw); err != nil {
			s.log.Warn("stop inventory send failed", zap.Error(err))
		}
	}
	s.log.Info("scanning stopped")
	return nil
}

// Disconnect 拆除传输，幂等。
func (s *Session) Disconnect() error {
	s.mu.Lock()
	cancel := s.scanCancel
	s.scanCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.scanWG.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	return nil
}

// 调用方必须已持锁
func (s *Session) teardownLocked() {
	if s.scanCancel != nil {
		s.scanCancel()
		s.scanCancel = nil
	}
	if s.tr != nil {
		_ = s.tr.Close()
		s.tr = nil
	}
	s.info = nil
	s.state.Store(int32(StateDisconnected))
}

// SetPower 设置发射功率（dBm，0..33）
func (s *Session) SetPower(dbm int) error {
	if dbm < 0 || dbm > 33 {
		return fmt.Errorf("power %d out of range [0,33]", dbm)
	}
	_, err := s.Request(cf.CmdSetPower, []byte{byte(dbm)}, 0)
	return err
}

// SetQueryParams 设置 Gen2 盘存参数（Q 值/Session/Target）
func (s *Session) SetQueryParams(q, session, target byte) error {
	_, err := s.Request(cf.CmdSetQueryParams, []byte{q, session, target}, 0)
	return err
}

// SetGPIO 控制 GPIO 输出
func (s *Session) SetGPIO(pin byte, on bool) error {
	level := byte(0)
	if on {
		level = 1
	}
	_, err := s.Request(cf.CmdSetGPIO, []byte{pin, level}, 0)
	return err
}

// PulseRelay 闭合继电器指定秒数（闸机开门）
func (s *Session) PulseRelay(seconds byte) error {
	_, err := s.Request(cf.CmdSetRelay, []byte{seconds}, 0)
	return err
}

// ReadOnce 单次盘存：一轮读取并返回解析出的标签。
func (s *Session) ReadOnce(timeout time.Duration) ([]cf.TagRecord, error) {
	fr, err := s.Request(cf.CmdInventoryOnce, nil, timeout)
	if err != nil {
		return nil, err
	}
	tags, err := cf.ParseInventory(fr.Payload(), time.Now())
	if err != nil {
		return tags, err
	}
	if len(tags) > 0 {
		if s.m != nil {
			s.m.TagsObserved.WithLabelValues("once").Add(float64(len(tags)))
		}
		s.mu.Lock()
		h := s.onTags
		s.mu.Unlock()
		if h != nil {
			h("once", tags)
		}
	}
	return tags, nil
}

func (s *Session) countCmd(cmd uint16, result string) {
	if s.m != nil {
		s.m.CommandTotal.WithLabelValues(cmdLabel(cmd), result).Inc()
	}
}

func cmdLabel(cmd uint16) string { return fmt.Sprintf("0x%04X", cmd) }

package reader

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/rfid-server/internal/config"
	"github.com/taoyao-code/rfid-server/internal/protocol/cf"
)

func simConfig() config.ReaderConfig {
	return config.ReaderConfig{
		ConnType:       "simulated",
		DeviceAddr:     0x01,
		RequestTimeout: time.Second,
		ReadTimeout:    100 * time.Millisecond,
		SimInterval:    20 * time.Millisecond,
	}
}

func TestSession_SimulatedConnect(t *testing.T) {
	s := NewSession(simConfig(), nil, nil)
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateConnected, s.State())
	require.NotNil(t, s.DeviceInfo(), "模拟传输的设备信息探测必须成功")
	assert.Equal(t, "9.99", s.DeviceInfo().Version())

	// 幂等
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Disconnect())
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSession_SimulatedScanYieldsTags(t *testing.T) {
	s := NewSession(simConfig(), nil, nil)
	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()

	var mu sync.Mutex
	var got []cf.TagRecord
	done := make(chan struct{})
	var once sync.Once
	s.OnTags(func(source string, tags []cf.TagRecord) {
		assert.Equal(t, "scan", source)
		mu.Lock()
		got = append(got, tags...)
		mu.Unlock()
		once.Do(func() { close(done) })
	})

	require.NoError(t, s.StartScanning())
	assert.Equal(t, StateScanning, s.State())
	// 幂等
	require.NoError(t, s.StartScanning())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("no synthesized tags within bounded window")
	}

	require.NoError(t, s.StopScanning())
	assert.Equal(t, StateConnected, s.State())
	// 幂等
	require.NoError(t, s.StopScanning())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	for _, tag := range got {
		assert.NotEmpty(t, tag.EPC)
		assert.LessOrEqual(t, tag.RSSI, 0)
		assert.GreaterOrEqual(t, tag.RSSI, -100)
		assert.False(t, tag.SeenAt.IsZero())
	}
}

func TestSession_RequestWhileScanning(t *testing.T) {
	s := NewSession(simConfig(), nil, nil)
	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()

	require.NoError(t, s.StartScanning())
	err := s.SetPower(30)
	assert.ErrorIs(t, err, ErrBusyScanning)

	require.NoError(t, s.StopScanning())
	assert.NoError(t, s.SetPower(30))
}

func TestSession_ReadOnce(t *testing.T) {
	s := NewSession(simConfig(), nil, nil)
	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()

	tags, err := s.ReadOnce(time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, tags)
}

func TestSession_Commands(t *testing.T) {
	s := NewSession(simConfig(), nil, nil)
	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()

	assert.NoError(t, s.SetQueryParams(4, 1, 0))
	assert.NoError(t, s.SetGPIO(1, true))
	assert.NoError(t, s.PulseRelay(2))
	assert.Error(t, s.SetPower(50), "功率越界要拒绝")
}

func TestSession_BluetoothStub(t *testing.T) {
	cfg := simConfig()
	cfg.ConnType = "bluetooth"
	s := NewSession(cfg, nil, nil)
	assert.ErrorIs(t, s.Connect(context.Background()), ErrBluetoothUnsupported)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSession_UnknownConnType(t *testing.T) {
	cfg := simConfig()
	cfg.ConnType = "carrier-pigeon"
	s := NewSession(cfg, nil, nil)
	assert.ErrorIs(t, s.Connect(context.Background()), ErrUnknownConnType)
}

func TestSession_NotConnected(t *testing.T) {
	s := NewSession(simConfig(), nil, nil)
	assert.ErrorIs(t, s.StartScanning(), ErrNotConnected)
	_, err := s.Request(cf.CmdGetDeviceInfo, nil, time.Second)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, s.Disconnect(), "未连接时断开是幂等空操作")
}

func TestSession_SimFixture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tags.yaml")
	require.NoError(t, os.WriteFile(path, []byte("epcs:\n  - AABBCCDD\n"), 0o644))

	epcs, err := LoadSimEPCs(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"AABBCCDD"}, epcs)

	_, err = LoadSimEPCs(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

// 对端收下请求但永不应答：请求要在期限附近超时，且会话保持 Connected 可重试
func TestSession_TCPRequestTimeoutKeepsSession(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	cfg := config.ReaderConfig{
		ConnType:       "tcp",
		Addr:           addr.IP.String(),
		Port:           addr.Port,
		DeviceAddr:     0x01,
		DialTimeout:    time.Second,
		RequestTimeout: 200 * time.Millisecond, // 连接探测也会超时，但只降级不拒连
		ReadTimeout:    100 * time.Millisecond,
	}
	s := NewSession(cfg, nil, nil)
	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()
	assert.Equal(t, StateConnected, s.State())
	assert.Nil(t, s.DeviceInfo(), "探测失败的连接处于降级状态")

	start := time.Now()
	_, err = s.Request(cf.CmdGetDeviceInfo, nil, 2*time.Second)
	elapsed := time.Since(start)

	assert.True(t, IsTimeout(err), "err = %v", err)
	assert.InDelta(t, 2000, elapsed.Milliseconds(), 700)
	assert.Equal(t, StateConnected, s.State(), "单次超时不拆连接")
}

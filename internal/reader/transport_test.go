package reader

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/rfid-server/internal/protocol/cf"
)

func pipeTransport(t *testing.T) (*TCPTransport, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	tr := NewTCPTransport(client, nil)
	t.Cleanup(func() {
		_ = tr.Close()
		_ = server.Close()
	})
	return tr, server
}

func TestTCPTransport_ReadFrameSplitWrites(t *testing.T) {
	tr, server := pipeTransport(t)
	raw, err := cf.BuildResponse(0x01, cf.CmdGetDeviceInfo, cf.StatusOK, []byte{0x01, 0x02, 0x0E})
	require.NoError(t, err)

	go func() {
		for _, b := range raw {
			_, _ = server.Write([]byte{b})
			time.Sleep(time.Millisecond)
		}
	}()

	fr, err := tr.ReadFrame(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, cf.CmdGetDeviceInfo, fr.Cmd)
	assert.True(t, fr.IsOK())
}

func TestTCPTransport_QueuedFrames(t *testing.T) {
	tr, server := pipeTransport(t)
	f1, _ := cf.BuildResponse(0x01, cf.CmdInventoryPush, cf.StatusOK, nil)
	f2, _ := cf.BuildResponse(0x01, cf.CmdStopInventory, cf.StatusOK, nil)

	go func() {
		_, _ = server.Write(append(append([]byte(nil), f1...), f2...))
	}()

	fr1, err := tr.ReadFrame(time.Second)
	require.NoError(t, err)
	// 第二帧来自同一次读取，必须从队列立即返回
	fr2, err := tr.ReadFrame(time.Second)
	require.NoError(t, err)
	assert.Equal(t, cf.CmdInventoryPush, fr1.Cmd)
	assert.Equal(t, cf.CmdStopInventory, fr2.Cmd)
}

func TestTCPTransport_Timeout(t *testing.T) {
	tr, _ := pipeTransport(t)

	start := time.Now()
	_, err := tr.ReadFrame(400 * time.Millisecond)
	elapsed := time.Since(start)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, te.Buffered)
	assert.InDelta(t, 400, elapsed.Milliseconds(), 250, "超时应当在期限附近返回")
}

func TestTCPTransport_TimeoutKeepsPartialDiagnostics(t *testing.T) {
	tr, server := pipeTransport(t)
	full, _ := cf.BuildResponse(0x01, cf.CmdGetDeviceInfo, cf.StatusOK, []byte{0x01})

	go func() {
		// 只发半帧
		_, _ = server.Write(full[:4])
	}()

	_, err := tr.ReadFrame(300 * time.Millisecond)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 4, te.Buffered, "半包字节数要进入诊断信息")
	assert.NotEmpty(t, te.Prefix)
}

func TestTCPTransport_ConnectionClosed(t *testing.T) {
	tr, server := pipeTransport(t)
	_ = server.Close()

	_, err := tr.ReadFrame(time.Second)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestTCPTransport_WrongProtocol(t *testing.T) {
	tr, server := pipeTransport(t)
	go func() {
		_, _ = server.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
	}()

	_, err := tr.ReadFrame(time.Second)
	var wp *WrongProtocolError
	require.ErrorAs(t, err, &wp)
	assert.Contains(t, wp.Prefix, "HTTP/")
}

func TestTCPTransport_BinaryGarbageIsNotWrongProtocol(t *testing.T) {
	tr, server := pipeTransport(t)
	good, _ := cf.BuildResponse(0x01, cf.CmdInventoryPush, cf.StatusOK, nil)
	go func() {
		_, _ = server.Write(append([]byte{0x00, 0x01, 0xFE}, good...))
	}()

	fr, err := tr.ReadFrame(time.Second)
	require.NoError(t, err, "二进制脏前缀走重同步，不是协议误判")
	assert.Equal(t, cf.CmdInventoryPush, fr.Cmd)
}

func TestMapConnError(t *testing.T) {
	assert.Nil(t, mapConnError(nil))
	assert.ErrorIs(t, mapConnError(net.ErrClosed), ErrConnectionClosed)
	other := errors.New("boom")
	assert.Equal(t, other, mapConnError(other))
}

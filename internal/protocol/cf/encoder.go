package cf

import "fmt"

// Build 构造一帧下行命令帧（与 Parse 对应）。
func Build(addr byte, cmd uint16, data []byte) ([]byte, error) {
	if len(data) > MaxDataLen {
		return nil, fmt.Errorf("data too long: %d bytes", len(data))
	}
	buf := make([]byte, 0, headerLen+len(data)+crcLen)
	buf = append(buf, FrameHead, addr, byte(cmd>>8), byte(cmd&0xFF), byte(len(data)))
	buf = append(buf, data...)
	return PutCRC(buf), nil
}

// BuildResponse 构造一帧响应帧（status+payload）。
// 设备侧才会发这种帧，服务端只在模拟传输与测试中使用。
func BuildResponse(addr byte, cmd uint16, status byte, payload []byte) ([]byte, error) {
	data := make([]byte, 0, 1+len(payload))
	data = append(data, status)
	data = append(data, payload...)
	return Build(addr, cmd, data)
}

package cf

// Frame CF 协议帧
// 布局：head[1]=0xCF | addr[1] | cmdHi cmdLo[2] | len[1] | data[len] | crcLo crcHi[2]
// len 统一计数 len 字段之后、校验之前的全部字节；响应帧 data 首字节为 status。
type Frame struct {
	Addr byte
	Cmd  uint16
	Data []byte
}

const (
	// FrameHead 帧头哨兵字节
	FrameHead = 0xCF
	// AddrBroadcast 广播地址
	AddrBroadcast = 0xFF

	// headerLen head+addr+cmd+len
	headerLen = 5
	// crcLen 末尾校验字段长度
	crcLen = 2
	// MinFrameLen 最小完整帧长度（data 为空）
	MinFrameLen = headerLen + crcLen
	// MaxDataLen len 为单字节，数据区上限
	MaxDataLen = 0xFF
)

// 命令字（16 位，网络序，对核心而言是不透明路由值）
const (
	CmdStartInventory uint16 = 0x0001 // 启动连续盘存
	CmdStopInventory  uint16 = 0x0002 // 停止连续盘存
	CmdInventoryOnce  uint16 = 0x0003 // 单次盘存
	CmdInventoryPush  uint16 = 0x0045 // 盘存数据上报（主动推送/盘存应答共用）
	CmdGetDeviceInfo  uint16 = 0x0070 // 读设备信息
	CmdSetAllParams   uint16 = 0x0071 // 写全部参数
	CmdGetAllParams   uint16 = 0x0072 // 读全部参数
	CmdSetPower       uint16 = 0x0076 // 设置发射功率
	CmdSetQueryParams uint16 = 0x0077 // 设置 Q 值/Session/Target
	CmdSetGPIO        uint16 = 0x0080 // GPIO 输出控制
	CmdSetRelay       uint16 = 0x0081 // 继电器控制（开闸）
)

// StatusOK 响应状态：成功
const StatusOK = 0x00

// Status 响应帧状态字节；data 为空时返回 0。
func (f *Frame) Status() byte {
	if len(f.Data) == 0 {
		return 0
	}
	return f.Data[0]
}

// Payload 响应帧去掉状态字节后的负载。
func (f *Frame) Payload() []byte {
	if len(f.Data) == 0 {
		return nil
	}
	return f.Data[1:]
}

// IsOK 响应状态是否为成功
func (f *Frame) IsOK() bool { return f.Status() == StatusOK }

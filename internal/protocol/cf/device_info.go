package cf

import "fmt"

// DeviceInfo 读设备信息应答的负载（固定偏移）。
// 布局：addr | verHi verLo | workMode | antMask | power | q | session | filterTime | intervalTime
type DeviceInfo struct {
	Addr         byte
	VersionMajor byte
	VersionMinor byte
	WorkMode     byte
	AntennaMask  byte
	Power        byte
	QValue       byte
	Session      byte
	FilterTime   byte
	IntervalTime byte
}

// Version 形如 "2.14" 的固件版本号
func (d *DeviceInfo) Version() string {
	return fmt.Sprintf("%d.%d", d.VersionMajor, d.VersionMinor)
}

// ParseDeviceInfo 解析设备信息负载。
// 旧固件会省略尾部字段，短负载不报错，缺失字段保持零值。
func ParseDeviceInfo(payload []byte) *DeviceInfo {
	info := &DeviceInfo{}
	fields := []*byte{
		&info.Addr,
		&info.VersionMajor, &info.VersionMinor,
		&info.WorkMode,
		&info.AntennaMask,
		&info.Power,
		&info.QValue,
		&info.Session,
		&info.FilterTime,
		&info.IntervalTime,
	}
	for i, f := range fields {
		if i >= len(payload) {
			break
		}
		*f = payload[i]
	}
	return info
}

// EncodeDeviceInfo 将 DeviceInfo 编回负载字节（模拟传输与测试使用）。
func EncodeDeviceInfo(d *DeviceInfo) []byte {
	return []byte{
		d.Addr,
		d.VersionMajor, d.VersionMinor,
		d.WorkMode,
		d.AntennaMask,
		d.Power,
		d.QValue,
		d.Session,
		d.FilterTime,
		d.IntervalTime,
	}
}

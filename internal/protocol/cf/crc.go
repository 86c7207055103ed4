package cf

import "encoding/binary"

// CRC16 计算 CF 协议校验值：反射算法，多项式 0x8408，预置 0xFFFF。
// 覆盖范围为帧头到数据区末尾，不包含末尾两字节校验本身。
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0x8408
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// PutCRC 计算 prefix 的校验值并以小端序追加。
// 字节序与 FrameCRC 必须保持一致；如需对齐某批固件的抓包结果，只改这两处。
func PutCRC(prefix []byte) []byte {
	sum := make([]byte, 2)
	binary.LittleEndian.PutUint16(sum, CRC16(prefix))
	return append(prefix, sum...)
}

// FrameCRC 读取帧尾的校验字段（小端）。
func FrameCRC(raw []byte) uint16 {
	return binary.LittleEndian.Uint16(raw[len(raw)-2:])
}

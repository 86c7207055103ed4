package cf

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TagRecord 一次标签读取
type TagRecord struct {
	EPC     string    // 十六进制大写
	TID     string    // 可选，多数命令不带
	RSSI    int       // dBm，约束到 [-100, 0]
	Antenna int       // 天线口 1..4
	PC      uint16    // 协议控制位
	CRC     uint16    // 标签自带 CRC（区别于帧校验）
	SeenAt  time.Time // 捕获时间
}

const (
	// tagRecordFixed 子记录长度字节之后的固定部分：rssi(1)+ant(1)+pc(2)+crc(2)
	tagRecordFixed = 6
	// MaxEPCBytes EPC 上限 64 字节（128 个十六进制字符）
	MaxEPCBytes = 64
)

var ErrBadTagRecord = errors.New("bad tag record")

// ParseInventory 解析盘存负载为标签记录序列。
// 负载是子记录的拼接：n[1] | rssi[1,有符号] | ant[1] | pc[2,BE] | epc[n-6] | tagCrc[2,BE]，
// n 计数其后的全部字节。空负载表示"范围内无标签"，是正常应答而非错误。
func ParseInventory(payload []byte, seenAt time.Time) ([]TagRecord, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var tags []TagRecord
	off := 0
	for off < len(payload) {
		n := int(payload[off])
		off++
		if n < tagRecordFixed || off+n > len(payload) {
			return tags, fmt.Errorf("%w: record length %d at offset %d (payload %d)",
				ErrBadTagRecord, n, off-1, len(payload))
		}
		rec := payload[off : off+n]
		off += n

		epcLen := n - tagRecordFixed
		if epcLen > MaxEPCBytes {
			return tags, fmt.Errorf("%w: epc %d bytes exceeds %d", ErrBadTagRecord, epcLen, MaxEPCBytes)
		}
		rssi := int(int8(rec[0]))
		if rssi < -100 {
			rssi = -100
		}
		if rssi > 0 {
			rssi = 0
		}
		tags = append(tags, TagRecord{
			EPC:     strings.ToUpper(hex.EncodeToString(rec[4 : 4+epcLen])),
			RSSI:    rssi,
			Antenna: int(rec[1]),
			PC:      binary.BigEndian.Uint16(rec[2:4]),
			CRC:     binary.BigEndian.Uint16(rec[4+epcLen:]),
			SeenAt:  seenAt,
		})
	}
	return tags, nil
}

// EncodeTagRecord 编码一条标签子记录（模拟传输与测试使用）。
func EncodeTagRecord(t TagRecord) ([]byte, error) {
	epc, err := hex.DecodeString(t.EPC)
	if err != nil {
		return nil, fmt.Errorf("%w: epc not hex: %v", ErrBadTagRecord, err)
	}
	if len(epc) > MaxEPCBytes {
		return nil, fmt.Errorf("%w: epc %d bytes exceeds %d", ErrBadTagRecord, len(epc), MaxEPCBytes)
	}
	buf := make([]byte, 0, 1+tagRecordFixed+len(epc))
	buf = append(buf, byte(tagRecordFixed+len(epc)), byte(int8(t.RSSI)), byte(t.Antenna))
	pc := make([]byte, 2)
	binary.BigEndian.PutUint16(pc, t.PC)
	buf = append(buf, pc...)
	buf = append(buf, epc...)
	crc := make([]byte, 2)
	binary.BigEndian.PutUint16(crc, t.CRC)
	return append(buf, crc...), nil
}

// EncodeInventory 编码整个盘存负载（status 之后的部分）。
func EncodeInventory(tags []TagRecord) ([]byte, error) {
	var buf []byte
	for _, t := range tags {
		rec, err := EncodeTagRecord(t)
		if err != nil {
			return nil, err
		}
		buf = append(buf, rec...)
	}
	return buf, nil
}

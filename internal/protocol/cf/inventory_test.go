package cf

import (
	"errors"
	"testing"
	"time"
)

func TestParseInventory_Empty(t *testing.T) {
	// 空负载表示范围内无标签，正常应答
	tags, err := ParseInventory(nil, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tags) != 0 {
		t.Fatalf("tags = %d, want 0", len(tags))
	}
}

func TestParseInventory_RoundTrip(t *testing.T) {
	now := time.Now()
	in := []TagRecord{
		{EPC: "E28011700000020F1A2B3C4D", RSSI: -52, Antenna: 1, PC: 0x3000, CRC: 0x1234},
		{EPC: "300833B2DDD9014000000001", RSSI: -71, Antenna: 3, PC: 0x3400, CRC: 0xBEEF},
	}
	payload, err := EncodeInventory(in)
	if err != nil {
		t.Fatalf("EncodeInventory: %v", err)
	}
	out, err := ParseInventory(payload, now)
	if err != nil {
		t.Fatalf("ParseInventory: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("tags = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i].EPC != in[i].EPC || out[i].RSSI != in[i].RSSI ||
			out[i].Antenna != in[i].Antenna || out[i].PC != in[i].PC || out[i].CRC != in[i].CRC {
			t.Errorf("tag %d = %+v, want %+v", i, out[i], in[i])
		}
		if !out[i].SeenAt.Equal(now) {
			t.Errorf("tag %d SeenAt not stamped", i)
		}
	}
}

func TestParseInventory_RSSIClamped(t *testing.T) {
	// rssi 原始字节 0x10 = +16dBm，不合理，约束到 0
	rec := []byte{byte(tagRecordFixed + 2), 0x10, 0x01, 0x30, 0x00, 0xAA, 0xBB, 0x12, 0x34}
	tags, err := ParseInventory(rec, time.Now())
	if err != nil {
		t.Fatalf("ParseInventory: %v", err)
	}
	if len(tags) != 1 || tags[0].RSSI != 0 {
		t.Fatalf("tags = %+v, want single record with RSSI=0", tags)
	}
}

func TestParseInventory_TruncatedRecord(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "长度越过负载边界", payload: []byte{0x20, 0x01, 0x02}},
		{name: "长度小于固定部分", payload: []byte{0x03, 0x01, 0x02, 0x03}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseInventory(tt.payload, time.Now()); !errors.Is(err, ErrBadTagRecord) {
				t.Fatalf("err = %v, want ErrBadTagRecord", err)
			}
		})
	}
}

func TestParseDeviceInfo_FullAndShort(t *testing.T) {
	full := EncodeDeviceInfo(&DeviceInfo{
		Addr: 0x01, VersionMajor: 2, VersionMinor: 14, WorkMode: 1,
		AntennaMask: 0x0F, Power: 30, QValue: 4, Session: 1, FilterTime: 0, IntervalTime: 10,
	})
	info := ParseDeviceInfo(full)
	if info.Version() != "2.14" || info.Power != 30 || info.AntennaMask != 0x0F {
		t.Fatalf("info = %+v", info)
	}

	// 旧固件的短负载：尾部字段保持零值，不报错
	short := ParseDeviceInfo(full[:4])
	if short.Addr != 0x01 || short.WorkMode != 1 {
		t.Fatalf("short info = %+v", short)
	}
	if short.Power != 0 || short.QValue != 0 || short.IntervalTime != 0 {
		t.Fatalf("missing fields must stay zero: %+v", short)
	}

	empty := ParseDeviceInfo(nil)
	if *empty != (DeviceInfo{}) {
		t.Fatalf("empty payload must decode to zero value: %+v", empty)
	}
}

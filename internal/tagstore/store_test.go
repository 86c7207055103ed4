package tagstore

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/rfid-server/internal/protocol/cf"
)

func rec(epc string, at time.Time) cf.TagRecord {
	return cf.TagRecord{EPC: epc, RSSI: -60, Antenna: 1, SeenAt: at}
}

func TestStore_AddReportsNew(t *testing.T) {
	s := New(nil)
	assert.True(t, s.Add(rec("E200AABB", time.Now())))
	assert.False(t, s.Add(rec("E200AABB", time.Now())))
	assert.True(t, s.Add(rec("E200CCDD", time.Now())))
}

func TestStore_DuplicateCounting(t *testing.T) {
	s := New(nil)
	const k = 5
	for i := 0; i < k; i++ {
		s.Add(rec("E200AABB", time.Now()))
	}
	assert.Equal(t, k, s.TotalCount(), "每次读取都要计入总数")
	assert.Equal(t, 1, s.UniqueCount(), "同一 EPC 只算一个唯一标签")
}

func TestStore_GetRecentOrder(t *testing.T) {
	s := New(nil)
	base := time.Now()
	for i := 0; i < 5; i++ {
		s.Add(rec(fmt.Sprintf("EPC%02d", i), base.Add(time.Duration(i)*time.Millisecond)))
	}
	got := s.GetRecent(3)
	require.Len(t, got, 3)
	assert.Equal(t, "EPC04", got[0].EPC, "最新在前")
	assert.Equal(t, "EPC03", got[1].EPC)
	assert.Equal(t, "EPC02", got[2].EPC)

	assert.Len(t, s.GetRecent(100), 5, "n 超过存量时返回全部")
	assert.Nil(t, s.GetRecent(0))
}

func TestStore_CleanupRebuildsUniqueSet(t *testing.T) {
	now := time.Now()
	clock := now
	s := New(nil, WithNow(func() time.Time { return clock }))

	s.Add(rec("E200AABB", now.Add(-time.Hour)))
	s.Add(rec("E200CCDD", now.Add(-time.Minute)))
	require.Equal(t, 2, s.UniqueCount())

	evicted := s.Cleanup(10 * time.Minute)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, s.UniqueCount())
	assert.Equal(t, 1, s.TotalCount())
	_, ok := s.LastSeen("E200AABB")
	assert.False(t, ok, "被淘汰的 EPC 不应再有 lastSeen")

	// 淘汰后同一 EPC 必须重新算"新"
	assert.True(t, s.Add(rec("E200AABB", now)))
}

func TestStore_CleanupAllThenReAdd(t *testing.T) {
	now := time.Now()
	s := New(nil, WithNow(func() time.Time { return now }))
	s.Add(rec("E200AABB", now.Add(-time.Hour)))
	s.Add(rec("E200AABB", now.Add(-time.Hour)))

	s.Cleanup(time.Minute)
	assert.Equal(t, 0, s.UniqueCount())
	assert.Equal(t, 0, s.TotalCount())
	assert.True(t, s.Add(rec("E200AABB", now)), "全量淘汰后重新插入要上报 is_new")
}

func TestStore_MaxRecordsTrim(t *testing.T) {
	s := New(nil, WithMaxRecords(3))
	for i := 0; i < 10; i++ {
		s.Add(rec(fmt.Sprintf("EPC%02d", i), time.Now()))
	}
	assert.Equal(t, 3, s.TotalCount())
	got := s.GetRecent(3)
	assert.Equal(t, "EPC09", got[0].EPC)
}

func TestStore_Clear(t *testing.T) {
	s := New(nil)
	s.Add(rec("E200AABB", time.Now()))
	s.Clear()
	assert.Equal(t, 0, s.TotalCount())
	assert.Equal(t, 0, s.UniqueCount())
	assert.True(t, s.Add(rec("E200AABB", time.Now())))
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := New(nil)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.Add(rec(fmt.Sprintf("EPC%d-%d", g, i%10), time.Now()))
				s.GetRecent(5)
				s.UniqueCount()
				if i%50 == 0 {
					s.Cleanup(time.Hour)
				}
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 80, s.UniqueCount())
	assert.Equal(t, 1600, s.TotalCount())
}

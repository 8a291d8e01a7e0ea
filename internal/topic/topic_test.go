package topic

import (
	"testing"

	sn "github.com/mqttsn/gateway/internal/mqttsn"
)

func testClientTopicsPubReuse(t *testing.T) {
	var c ClientTopics
	i := c.AddPub("sensors/a")
	if i < 0 {
		t.Fatal("AddPub failed")
	}
	c.SetPubTid(i, 1)
	j := c.AddPub("sensors/a")
	if j != i {
		t.Fatalf("re-adding existing name returned different slot %d != %d", j, i)
	}
	if c.Pub[j].Tid != 1 {
		t.Fatalf("tid lost on re-add: %d", c.Pub[j].Tid)
	}
}

func testClientTopicsPubFull(t *testing.T) {
	var c ClientTopics
	for i := 0; i < sn.MaxInstanceTopics; i++ {
		if c.AddPub(string(rune('a'+i))) < 0 {
			t.Fatalf("AddPub unexpectedly failed at %d", i)
		}
	}
	if c.AddPub("overflow") != -1 {
		t.Fatal("AddPub on full table did not report congestion")
	}
}

func testClientTopicsClearOnReconnect(t *testing.T) {
	var c ClientTopics
	i := c.AddPub("sensors/a")
	c.SetPubTid(i, 1)
	j := c.AddSub("x", sn.Flags{})
	c.SetSubTid(j, 2)

	c.ClearPubTids()
	c.ClearSubTids()

	if c.Pub[i].Tid != 0 {
		t.Fatal("publish tid not cleared on reconnect")
	}
	if c.Sub[j].Tid != 0 {
		t.Fatal("subscribe tid not cleared on reconnect")
	}
}

func testSubByTidIgnoresTombstones(t *testing.T) {
	var c ClientTopics
	i := c.AddSub("x", sn.Flags{})
	c.SetSubTid(i, 5)
	if c.SubByTid(5) != i {
		t.Fatal("SubByTid did not find live subscription")
	}
	c.Unsubscribe("x")
	if c.Sub[i].Tid != sn.TopicIDTombstone {
		t.Fatal("Unsubscribe did not tombstone slot")
	}
	if c.SubByTid(sn.TopicIDTombstone) != -1 {
		t.Fatal("SubByTid must never resolve the tombstone id")
	}
}

func testMappingTableReuse(t *testing.T) {
	var tbl Table
	tid1 := tbl.Resolve("x")
	tid2 := tbl.Resolve("x")
	if tid1 != tid2 {
		t.Fatalf("same name produced different ids: %d != %d", tid1, tid2)
	}
	if tid1 == 0 || tid1 == sn.TopicIDTombstone {
		t.Fatalf("allocated reserved id %d", tid1)
	}
}

func testMappingTableFull(t *testing.T) {
	var tbl Table
	for i := 0; i < sn.MaxTopicMappings; i++ {
		name := string(rune('A' + i))
		if tid := tbl.Resolve(name); tid == 0 {
			t.Fatalf("Resolve unexpectedly failed at %d", i)
		}
	}
	if tid := tbl.Resolve("overflow"); tid != 0 {
		t.Fatalf("Resolve on full table returned %d, want 0 (congestion)", tid)
	}
}

func TestTopic(t *testing.T) {
	tests := []struct {
		name string
		fct  func(t *testing.T)
	}{
		{"client pub reuse", testClientTopicsPubReuse},
		{"client pub full", testClientTopicsPubFull},
		{"client clear on reconnect", testClientTopicsClearOnReconnect},
		{"sub by tid ignores tombstones", testSubByTidIgnoresTombstones},
		{"mapping table reuse", testMappingTableReuse},
		{"mapping table full", testMappingTableFull},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.fct(t)
		})
	}
}

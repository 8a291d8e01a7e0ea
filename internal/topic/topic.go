// Package topic implements the per-client publish/subscribe topic lists and
// the gateway-wide topic-name↔topic-id mapping table (§3, §4.5). All tables
// are fixed capacity, scanned linearly — MAX_INSTANCE_TOPICS and
// MAX_TOPIC_MAPPINGS are small enough that this is the right tool, and it
// keeps the "no allocation after construction" resource policy (§5) honest.
package topic

import sn "github.com/mqttsn/gateway/internal/mqttsn"

// PublishTopic is a client-side registered publish topic (§3). Tid==0 means
// unassigned.
type PublishTopic struct {
	Name string
	Tid  uint16
}

// SubscribeTopic is a client-side subscription (§3). Tid==0xFFFF marks a
// tombstoned (unsubscribed) entry; the slot is not reused until overwritten
// by a fresh Subscribe of the same name.
type SubscribeTopic struct {
	Name  string
	Flags sn.Flags
	Tid   uint16
}

// ClientTopics holds one client's publish and subscribe lists, each bounded
// by MAX_INSTANCE_TOPICS.
type ClientTopics struct {
	Pub [sn.MaxInstanceTopics]PublishTopic
	Sub [sn.MaxInstanceTopics]SubscribeTopic
}

// AddPub reserves a publish-topic slot for name, returning its index, or -1
// if the list is full (Congestion, §7). Re-adding an existing name returns
// its existing slot.
func (c *ClientTopics) AddPub(name string) int {
	for i := range c.Pub {
		if c.Pub[i].Name == name {
			return i
		}
	}
	for i := range c.Pub {
		if c.Pub[i].Name == "" {
			c.Pub[i] = PublishTopic{Name: name}
			return i
		}
	}
	return -1
}

// SetPubTid assigns the resolved topic-id to a publish-topic slot.
func (c *ClientTopics) SetPubTid(i int, tid uint16) { c.Pub[i].Tid = tid }

// PubByName finds a publish topic's slot index by name, or -1.
func (c *ClientTopics) PubByName(name string) int {
	for i := range c.Pub {
		if c.Pub[i].Name == name && c.Pub[i].Name != "" {
			return i
		}
	}
	return -1
}

// ClearPubTids resets every assigned publish-topic id to 0 (unassigned),
// forcing re-registration after a reconnect (§4.4).
func (c *ClientTopics) ClearPubTids() {
	for i := range c.Pub {
		c.Pub[i].Tid = 0
	}
}

// AddSub reserves (or reuses) a subscribe-topic slot for name, returning its
// index, or -1 if the list is full.
func (c *ClientTopics) AddSub(name string, flags sn.Flags) int {
	for i := range c.Sub {
		if c.Sub[i].Name == name {
			c.Sub[i].Flags = flags
			return i
		}
	}
	for i := range c.Sub {
		if c.Sub[i].Name == "" {
			c.Sub[i] = SubscribeTopic{Name: name, Flags: flags}
			return i
		}
	}
	return -1
}

// SetSubTid assigns the resolved topic-id to a subscribe-topic slot.
func (c *ClientTopics) SetSubTid(i int, tid uint16) { c.Sub[i].Tid = tid }

// SubByName finds a subscribe topic's slot index by name, or -1.
func (c *ClientTopics) SubByName(name string) int {
	for i := range c.Sub {
		if c.Sub[i].Name == name {
			return i
		}
	}
	return -1
}

// SubByTid finds a live (non-tombstoned) subscribe topic's slot index by
// topic-id, or -1. Inbound PUBLISH resolution on the client must use this —
// never the publish list (Open Question #3, resolved in SPEC_FULL.md §4.4).
func (c *ClientTopics) SubByTid(tid uint16) int {
	for i := range c.Sub {
		if c.Sub[i].Tid == tid && c.Sub[i].Tid != sn.TopicIDTombstone {
			return i
		}
	}
	return -1
}

// Unsubscribe tombstones a subscribe-topic slot by name.
func (c *ClientTopics) Unsubscribe(name string) {
	i := c.SubByName(name)
	if i < 0 {
		return
	}
	c.Sub[i].Tid = sn.TopicIDTombstone
}

// ClearSubTids resets every subscribe-topic id to 0, forcing
// re-subscription after a reconnect (§4.4).
func (c *ClientTopics) ClearSubTids() {
	for i := range c.Sub {
		if c.Sub[i].Name != "" {
			c.Sub[i].Tid = 0
		}
	}
}

// Mapping is a gateway-wide (name ↔ topic-id) record, shared across sessions
// (§3, §4.5).
type Mapping struct {
	Name   string
	Tid    uint16
	Subbed bool  // true once relayed upstream via MQTT SUBSCRIBE
	SubQoS int8  // highest QoS any session holds on this mapping
}

// Table is the gateway-wide mapping table, bounded by MAX_TOPIC_MAPPINGS.
type Table struct {
	entries [sn.MaxTopicMappings]Mapping
}

// Resolve returns the topic-id for name, allocating a fresh mapping in the
// first empty slot if name is unknown. It returns 0 if the table is full
// (Congestion, §7). Allocated ids are index+1, which for MAX_TOPIC_MAPPINGS
// well under 0xFFFE never collides with the reserved 0/0xFFFF values (§3,
// §8 invariant 4).
func (t *Table) Resolve(name string) uint16 {
	for i := range t.entries {
		if t.entries[i].Name == name {
			return t.entries[i].Tid
		}
	}
	for i := range t.entries {
		if t.entries[i].Name == "" {
			tid := uint16(i + 1)
			t.entries[i] = Mapping{Name: name, Tid: tid}
			return tid
		}
	}
	return 0
}

// ByTid finds a mapping by topic-id, or nil.
func (t *Table) ByTid(tid uint16) *Mapping {
	for i := range t.entries {
		if t.entries[i].Tid == tid && t.entries[i].Name != "" {
			return &t.entries[i]
		}
	}
	return nil
}

// ByName finds a mapping by name, or nil.
func (t *Table) ByName(name string) *Mapping {
	for i := range t.entries {
		if t.entries[i].Name == name {
			return &t.entries[i]
		}
	}
	return nil
}

// Len reports the number of live mappings.
func (t *Table) Len() int {
	n := 0
	for i := range t.entries {
		if t.entries[i].Name != "" {
			n++
		}
	}
	return n
}

// Range calls fn for every live mapping, in table order. fn may mutate the
// mapping through the given pointer.
func (t *Table) Range(fn func(m *Mapping)) {
	for i := range t.entries {
		if t.entries[i].Name != "" {
			fn(&t.entries[i])
		}
	}
}

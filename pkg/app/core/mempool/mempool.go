package mempool

import (
	"encoding/json"
	"slices"
	"strings"
	"sync"
)

// TxType is the bucket a group is scheduled in.
type TxType int

const (
	// TxFunding: groups with no application call (payments, asset
	// creation, opt-ins, plain transfers).
	TxFunding TxType = iota
	// TxMaintenance: admit, open, top-up, reprice and liquidate calls.
	TxMaintenance
	// TxPurchase: purchase calls.
	TxPurchase
)

func (t TxType) String() string {
	switch t {
	case TxFunding:
		return "funding"
	case TxMaintenance:
		return "maintenance"
	default:
		return "purchase"
	}
}

// ClassifyRaw classifies a raw group by peeking at its JSON envelope:
//
//	{"txns": [{"txn": {"type": "appl", "method": "purchase", ...}, ...}]}
//
// Malformed input lands in the last bucket; it fails verification there.
func ClassifyRaw(b []byte) TxType {
	kind, _ := peek(b)
	return kind
}

// peek returns the bucket of a raw group and the distinct senders it names.
func peek(b []byte) (TxType, []string) {
	if len(b) == 0 || b[0] != '{' {
		return TxPurchase, nil
	}

	var envelope struct {
		Txns []struct {
			Txn struct {
				Type   string `json:"type"`
				Sender string `json:"sender"`
				Method string `json:"method"`
			} `json:"txn"`
		} `json:"txns"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil || len(envelope.Txns) == 0 {
		return TxPurchase, nil
	}

	kind := TxFunding
	var senders []string
	for _, st := range envelope.Txns {
		if st.Txn.Sender != "" {
			addr := strings.ToLower(st.Txn.Sender)
			if !slices.Contains(senders, addr) {
				senders = append(senders, addr)
			}
		}
		if st.Txn.Type != "appl" || kind != TxFunding {
			continue
		}
		if st.Txn.Method == "purchase" {
			kind = TxPurchase
		} else {
			kind = TxMaintenance
		}
	}
	return kind, senders
}

type entry struct {
	raw     []byte
	seq     uint64
	senders []string
}

// Mempool keeps one FIFO queue per bucket. Proposals drain funding first so
// that opt-ins and payments land before the listings that depend on them,
// and listing maintenance lands before purchases against it.
//
// Bucket priority never reorders groups of the same sender: nonces must
// increase per sender, so a group waits behind any earlier submission that
// shares a sender with it.
type Mempool struct {
	mu      sync.Mutex
	seq     uint64
	buckets [3][]entry
}

func NewMempool() *Mempool {
	return &Mempool{}
}

// PushRaw classifies and enqueues a group.
func (m *Mempool) PushRaw(b []byte) TxType {
	cp := append([]byte(nil), b...)
	kind, senders := peek(b)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.buckets[kind] = append(m.buckets[kind], entry{raw: cp, seq: m.seq, senders: senders})
	return kind
}

// SelectForProposal returns up to maxBytes worth of groups in bucket order,
// removing them from the mempool. maxBytes <= 0 means no limit.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64
	for {
		kind, idx, ok := m.next()
		if !ok {
			break
		}
		e := m.buckets[kind][idx]
		n := int64(len(e.raw))
		if maxBytes > 0 && used+n > maxBytes {
			break
		}
		out = append(out, e.raw)
		used += n
		m.buckets[kind] = slices.Delete(m.buckets[kind], idx, idx+1)
	}
	return out
}

// next finds the first group, in bucket order, that no earlier pending group
// of one of its senders is waiting ahead of.
func (m *Mempool) next() (TxType, int, bool) {
	oldest := make(map[string]uint64)
	for _, q := range m.buckets {
		for _, e := range q {
			for _, s := range e.senders {
				if seq, ok := oldest[s]; !ok || e.seq < seq {
					oldest[s] = e.seq
				}
			}
		}
	}

	for kind, q := range m.buckets {
	scan:
		for i, e := range q {
			for _, s := range e.senders {
				if oldest[s] != e.seq {
					continue scan
				}
			}
			return TxType(kind), i, true
		}
	}
	return 0, 0, false
}

// Len returns total pending groups.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets[TxFunding]) + len(m.buckets[TxMaintenance]) + len(m.buckets[TxPurchase])
}

package ids

import (
	"strconv"
	"sync"
	"time"
)

// Layout: 41 bits millis since epoch | 10 bits node | 12 bits sequence.
const (
	nodeBits = 10
	seqBits  = 12
	maxNode  = 1<<nodeBits - 1
	seqMask  = 1<<seqBits - 1
	tsMask   = 1<<41 - 1
)

var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

type Generator struct {
	mu       sync.Mutex
	epochMS  int64
	nodeID   int64
	seq      int64
	lastTSMS int64
	now      func() time.Time
}

func NewGenerator(nodeID int64) *Generator {
	if nodeID < 0 || nodeID > maxNode {
		nodeID = 1
	}
	return &Generator{epochMS: epoch.UnixMilli(), nodeID: nodeID, now: time.Now}
}

var (
	defaultGen *Generator
	once       sync.Once
)

func std() *Generator {
	once.Do(func() { defaultGen = NewGenerator(1) })
	return defaultGen
}

// SetNodeID sets the node of the package generator; call it once at boot.
func SetNodeID(nodeID int64) {
	g := std()
	g.mu.Lock()
	defer g.mu.Unlock()
	if nodeID < 0 || nodeID > maxNode {
		nodeID = 1
	}
	g.nodeID = nodeID
}

func Generate() int64 { return std().Next() }

func GenerateString() string { return strconv.FormatInt(Generate(), 10) }

func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UnixMilli()
	if now < g.lastTSMS {
		// clock went backwards: keep issuing from the last timestamp
		now = g.lastTSMS
	}
	if now == g.lastTSMS {
		g.seq = (g.seq + 1) & seqMask
		if g.seq == 0 {
			for now <= g.lastTSMS {
				now = g.now().UnixMilli()
			}
		}
	} else {
		g.seq = 0
	}
	g.lastTSMS = now

	ts := (now - g.epochMS) & tsMask
	return ts<<(nodeBits+seqBits) | g.nodeID<<seqBits | g.seq
}

// Node extracts the node bits of an id produced by any Generator.
func Node(id int64) int64 { return (id >> seqBits) & maxNode }

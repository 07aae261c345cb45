package events

import (
	"sync"
	"time"

	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/internal/ladder"
)

// DefaultLogCapacity 日志环形缓冲容量
const DefaultLogCapacity = 1000

// Entry 一条事件日志
type Entry struct {
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
}

// LogBuffer 保留最近 N 条事件
type LogBuffer struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	now     func() time.Time
}

func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogBuffer{entries: make([]Entry, capacity), now: time.Now}
}

func (b *LogBuffer) add(level Level, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[b.next] = Entry{Time: b.now(), Level: level, Message: msg}
	b.next = (b.next + 1) % len(b.entries)
	if b.next == 0 {
		b.full = true
	}
}

// Entries 按时间顺序返回（旧 → 新）
func (b *LogBuffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		return append([]Entry(nil), b.entries[:b.next]...)
	}
	out := make([]Entry, 0, len(b.entries))
	out = append(out, b.entries[b.next:]...)
	return append(out, b.entries[:b.next]...)
}

func (b *LogBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.entries {
		b.entries[i] = Entry{}
	}
	b.next = 0
	b.full = false
}

func (b *LogBuffer) OnLog(msg string, level Level) { b.add(level, msg) }

func (b *LogBuffer) OnStatusChange(string, domain.Status) {}

func (b *LogBuffer) OnCycleComplete(int, time.Duration) {}

// OnOrdersComplete 结果汇总已经通过 OnLog 写入
func (b *LogBuffer) OnOrdersComplete([]ladder.Result) {}

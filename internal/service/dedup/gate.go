package dedup

import (
	"container/list"
	"context"
	"log"
	"sync"
	"time"
)

// Decision is the outcome of Admit.
type Decision int

const (
	Accept Decision = iota
	Duplicate
)

func (d Decision) String() string {
	if d == Duplicate {
		return "duplicate"
	}
	return "accept"
}

// Config 控制去重窗口。
type Config struct {
	Window     time.Duration // 消息 id 保留时长
	MaxEntries int           // 超过后按最早写入淘汰
}

// DefaultConfig 返回默认配置：24 小时窗口，最多 100k 条。
func DefaultConfig() Config {
	return Config{Window: 24 * time.Hour, MaxEntries: 100_000}
}

type entry struct {
	key    string
	seenAt time.Time
}

// Gate 记录近期出现过的入站消息 id，在进入编排器之前丢弃重复投递。
// 记录过期后被淘汰不影响正确性：编排器基于持久化会话的重放检查是第二道防线。
type Gate struct {
	cfg   Config
	now   func() time.Time
	mu    sync.Mutex
	order *list.List // 按写入时间排序的 *entry
	index map[string]*list.Element
}

// NewGate 创建去重闸门。
func NewGate(cfg Config) *Gate {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	return &Gate{
		cfg:   cfg,
		now:   time.Now,
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// Admit 记录 (channel, messageID)，首次出现返回 Accept，窗口内再次出现返回 Duplicate。
// 空 id 无法去重，总是放行。
func (g *Gate) Admit(channel, messageID string) Decision {
	if messageID == "" {
		return Accept
	}
	key := channel + "\x00" + messageID
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.evictExpiredLocked(now)
	if _, ok := g.index[key]; ok {
		return Duplicate
	}

	g.index[key] = g.order.PushBack(&entry{key: key, seenAt: now})
	for g.order.Len() > g.cfg.MaxEntries {
		g.removeLocked(g.order.Front())
	}
	return Accept
}

// Forget 撤销一次放行，用于下游处理失败、希望渠道重投时再次放行。
func (g *Gate) Forget(channel, messageID string) {
	key := channel + "\x00" + messageID
	g.mu.Lock()
	defer g.mu.Unlock()
	if el, ok := g.index[key]; ok {
		g.removeLocked(el)
	}
}

// Len 返回当前记录数。
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.order.Len()
}

// Run 周期性淘汰过期记录，直到 ctx 结束。
func (g *Gate) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.mu.Lock()
			evicted := g.evictExpiredLocked(g.now())
			g.mu.Unlock()
			if evicted > 0 {
				log.Printf("[dedup] evicted %d expired message ids", evicted)
			}
		}
	}
}

func (g *Gate) evictExpiredLocked(now time.Time) int {
	cutoff := now.Add(-g.cfg.Window)
	evicted := 0
	for el := g.order.Front(); el != nil; el = g.order.Front() {
		if el.Value.(*entry).seenAt.After(cutoff) {
			break
		}
		g.removeLocked(el)
		evicted++
	}
	return evicted
}

func (g *Gate) removeLocked(el *list.Element) {
	e := g.order.Remove(el).(*entry)
	delete(g.index, e.key)
}

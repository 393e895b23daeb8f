package watch

import (
	"log"
	"sync"

	briefingService "github.com/zhouzirui/briefing/backend/internal/service/briefing"
)

// subscriberBuffer 每个订阅者可积压的事件数，超出后丢弃。
const subscriberBuffer = 32

type subscriber struct {
	sessionID string // 为空表示订阅全部会话
	events    chan briefingService.Transition
}

// Hub 将编排器提交的状态迁移广播给运营后台的订阅者。
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
}

// NewHub 创建广播中心
func NewHub() *Hub {
	return &Hub{subscribers: make(map[*subscriber]struct{})}
}

// Publish 实现 briefing.Notifier，慢订阅者不会阻塞编排器。
func (h *Hub) Publish(t briefingService.Transition) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers {
		if sub.sessionID != "" && sub.sessionID != t.SessionID {
			continue
		}
		select {
		case sub.events <- t:
		default:
			log.Printf("[watch] subscriber for session=%q is full, dropping %s v%d", sub.sessionID, t.SessionID, t.Version)
		}
	}
}

// Subscribe 注册订阅者，返回事件通道和取消函数。
func (h *Hub) Subscribe(sessionID string) (<-chan briefingService.Transition, func()) {
	sub := &subscriber{
		sessionID: sessionID,
		events:    make(chan briefingService.Transition, subscriberBuffer),
	}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.events, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, sub)
			h.mu.Unlock()
			close(sub.events)
		})
	}
}

// Len 返回当前订阅者数量
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

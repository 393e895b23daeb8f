package messaging

import (
	"context"
	"log"
	"time"
)

// Redeliverer 周期性补发 outbox 中未送达的消息。
type Redeliverer struct {
	sender      Sender
	outbox      Outbox
	batchSize   int
	maxAttempts int
}

// NewRedeliverer 创建补发任务。maxAttempts 为单条记录累计认领次数上限，超过后放弃。
func NewRedeliverer(sender Sender, outbox Outbox, batchSize, maxAttempts int) *Redeliverer {
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Redeliverer{sender: sender, outbox: outbox, batchSize: batchSize, maxAttempts: maxAttempts}
}

// RunOnce 处理一批记录，返回成功送达的条数。
func (r *Redeliverer) RunOnce(ctx context.Context) (int, error) {
	// 已放弃的记录不进入批次，避免堆积在队首挡住新记录。
	entries, err := r.outbox.Undelivered(ctx, r.maxAttempts, r.batchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		receipt, err := r.sender.Send(ctx, entry.Message())
		if err != nil {
			log.Printf("[messaging] redeliver %s failed: %v", entry.Key, err)
			continue
		}
		if !receipt.Duplicate {
			delivered++
		}
	}
	return delivered, nil
}

// Run 按 interval 循环执行，直到上下文结束。
func (r *Redeliverer) Run(ctx context.Context, interval time.Duration) {
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
			n, err := r.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				log.Printf("[messaging] redeliver batch failed: %v", err)
			}
			if n > 0 {
				log.Printf("[messaging] redelivered %d message(s)", n)
			}
		}
	}
}

package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/repository"

	"gorm.io/gorm"
)

// Publisher delivers one outbox message to the broker.
type Publisher interface {
	SendMessage(topic, key, value string) error
}

// OutboxSender drains pending ledger events to the broker in id order.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	log        *slog.Logger
	interval   time.Duration
	batchSize  int
	maxRetry   int
	stopCh     chan struct{}
	stopOnce   sync.Once
}

func NewOutboxSender(db *gorm.DB, publisher Publisher, cfg *config.Config, log *slog.Logger) *OutboxSender {
	interval := cfg.Business.OutboxInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	maxRetry := cfg.Business.OutboxMaxRetry
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		log:        log.With("job", "outbox_sender"),
		interval:   interval,
		batchSize:  100,
		maxRetry:   maxRetry,
		stopCh:     make(chan struct{}),
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("outbox sender started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("outbox sender exiting")
			return
		case <-s.stopCh:
			s.log.Info("outbox sender stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.Error("load pending messages failed", "err", err)
			}
		}
	}
}

func (s *OutboxSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// RunOnce sends pending messages until one fails; later messages wait for the next run so
// that events of an account are never delivered out of order.
func (s *OutboxSender) RunOnce(ctx context.Context) (int, error) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, msg := range messages {
		if err := s.publisher.SendMessage(msg.Topic, msg.MessageKey, msg.Payload); err != nil {
			s.log.Warn("send message failed", "id", msg.ID, "topic", msg.Topic, "err", err)
			parked, updateErr := s.outboxRepo.RecordFailure(ctx, msg, s.maxRetry)
			if updateErr != nil {
				s.log.Error("record send failure failed", "id", msg.ID, "err", updateErr)
			} else if parked {
				s.log.Error("message parked after max retries", "id", msg.ID, "retries", msg.RetryCount+1)
				continue
			}
			break
		}
		if err := s.outboxRepo.MarkAsSent(ctx, msg.ID); err != nil {
			s.log.Error("mark message sent failed", "id", msg.ID, "err", err)
			break
		}
		sent++
	}
	return sent, nil
}

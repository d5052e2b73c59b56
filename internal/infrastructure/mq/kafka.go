package mq

import (
	"fmt"

	"creditledger/internal/config"

	"github.com/IBM/sarama"
)

// Producer publishes ledger events to Kafka.
type Producer struct {
	producer sarama.SyncProducer
}

// NewProducer wraps an existing sync producer, such as sarama's mocks in tests.
func NewProducer(p sarama.SyncProducer) *Producer {
	return &Producer{producer: p}
}

func NewKafkaProducer(cfg *config.KafkaConfig) (*Producer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Idempotent = true
	kafkaConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewProducer(producer), nil
}

func (p *Producer) SendMessage(topic, key, value string) error {
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	})
	return err
}

func (p *Producer) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// Package notify は新たにアーカイブされた記事を外部システムへ通知する。
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/hitoshi/newsarchive/internal/model"
)

// KafkaConfig はKafkaPublisherの設定。
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// RecordMessage はKafkaに送信するメッセージ本体。
type RecordMessage struct {
	RunID  string       `json:"run_id"`
	Record model.Record `json:"record"`
}

// KafkaPublisher は記事1件を1メッセージとしてKafkaへ送信する。キーはタイトル。
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewProducerConfig はSyncProducer用のsarama設定を返す。
func NewProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.ClientID = "newsarchive"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Timeout = 10 * time.Second
	return cfg
}

// NewKafkaPublisher はブローカーに接続してKafkaPublisherを生成する。
func NewKafkaPublisher(cfg KafkaConfig, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, cfg.Topic, logger), nil
}

// NewKafkaPublisherWithProducer は既存のSyncProducerからKafkaPublisherを生成する。
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

// Publish は記事をまとめて送信する。記事が0件の場合は何もしない。
func (p *KafkaPublisher) Publish(ctx context.Context, runID string, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(records))
	for _, r := range records {
		value, err := json.Marshal(RecordMessage{RunID: runID, Record: r})
		if err != nil {
			return fmt.Errorf("failed to encode record %q: %w", r.Title, err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(r.TitleKey()),
			Value: sarama.ByteEncoder(value),
			Headers: []sarama.RecordHeader{
				{Key: []byte("run_id"), Value: []byte(runID)},
				{Key: []byte("source"), Value: []byte(r.Source)},
			},
		})
	}

	if err := p.producer.SendMessages(msgs); err != nil {
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) {
			return fmt.Errorf("failed to publish %d of %d records to %s: %w", len(perrs), len(msgs), p.topic, err)
		}
		return fmt.Errorf("failed to publish records to %s: %w", p.topic, err)
	}

	p.logger.Info("新規記事を通知しました",
		slog.String("topic", p.topic),
		slog.Int("count", len(msgs)),
	)
	return nil
}

// Close はプロデューサーを閉じる。
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

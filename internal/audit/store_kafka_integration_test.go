//go:build integration

package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"custody/internal/platform/kafka/producer"
	"custody/pkg/testutil/containers"
)

type KafkaStoreSuite struct {
	suite.Suite
	kafka    *containers.KafkaContainer
	producer *producer.Producer
}

func TestKafkaStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaStoreSuite))
}

func (s *KafkaStoreSuite) SetupSuite() {
	s.kafka = containers.GetManager().GetKafka(s.T())

	var err error
	s.producer, err = producer.New(producer.DefaultConfig(s.kafka.Brokers), nil)
	s.Require().NoError(err)
}

func (s *KafkaStoreSuite) TearDownSuite() {
	if s.producer != nil {
		s.Require().NoError(s.producer.Close())
	}
}

func (s *KafkaStoreSuite) TestPublishedThroughAsyncPublisher() {
	ctx := context.Background()
	topic := "vault.audit.publisher"
	s.Require().NoError(s.kafka.CreateTopic(ctx, topic, 1, 1))

	publisher := NewPublisher(NewKafkaStore(s.producer, topic), WithAsyncBuffer(8))
	s.Require().NoError(publisher.Emit(ctx, Event{
		Action:          string(EventWithdrawalRejected),
		Vault:           "0x5fbdb2315678afecb367f032d93f642f64180aa3",
		AuthorizationID: "0xfeed",
		Reason:          "authorization_reused",
	}))
	publisher.Close()

	consumer, err := s.kafka.NewConsumer(ctx, "audit-test-group", topic)
	s.Require().NoError(err)
	defer consumer.Close()

	record := s.kafka.WaitForMessage(ctx, consumer, 30*time.Second, func(r *kgo.Record) bool {
		return string(r.Key) == "0x5fbdb2315678afecb367f032d93f642f64180aa3"
	})
	s.Require().NotNil(record, "audit event not delivered")

	var event Event
	s.Require().NoError(json.Unmarshal(record.Value, &event))
	s.Equal(string(EventWithdrawalRejected), event.Action)
	s.Equal("authorization_reused", event.Reason)
	s.False(event.Timestamp.IsZero())
}

func (s *KafkaStoreSuite) TestProducerHealthy() {
	s.True(s.producer.Healthy(context.Background()))
}

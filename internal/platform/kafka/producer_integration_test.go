//go:build integration

package kafka_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"capstack/internal/platform/config"
	"capstack/internal/platform/kafka"
	"capstack/pkg/testutil/containers"
)

type ProducerSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
	topic    string
}

func TestProducerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ProducerSuite))
}

func (s *ProducerSuite) SetupSuite() {
	s.redpanda = containers.GetManager().GetRedpanda(s.T())
	s.topic = "capstack.admin-reviews.test"
	s.Require().NoError(s.redpanda.CreateTopic(context.Background(), s.topic))
}

func (s *ProducerSuite) TestPublishIsReadableByKey() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	producer, err := kafka.NewProducer(ctx, config.KafkaConfig{
		Brokers:     []string{s.redpanda.Broker},
		ReviewTopic: s.topic,
	})
	s.Require().NoError(err)
	s.Require().NotNil(producer)
	defer producer.Close()

	s.Require().NoError(producer.Publish(ctx, "spv-1", []byte(`{"type":"admin_review.spv_approval"}`)))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Broker),
		kgo.ConsumeTopics(s.topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().Empty(fetches.Errors())
	records := fetches.Records()
	s.Require().NotEmpty(records)
	s.Equal("spv-1", string(records[0].Key))
	s.JSONEq(`{"type":"admin_review.spv_approval"}`, string(records[0].Value))
}

func (s *ProducerSuite) TestNoBrokersDisablesProducer() {
	producer, err := kafka.NewProducer(context.Background(), config.KafkaConfig{})
	s.Require().NoError(err)
	s.Nil(producer)
}

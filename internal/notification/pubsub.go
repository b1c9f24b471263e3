package notification

import (
	"context"
	"fmt"
	"time"

	"maildash-backend/pkg/logger"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// Receiver pulls Gmail notifications from a Pub/Sub subscription, for
// deployments without a public push endpoint.
type Receiver struct {
	client    *pubsub.Client
	processor *GmailProcessor
	topicName string
	subName   string
}

// NewReceiver connects to Pub/Sub. topicName may be the short name or the
// full projects/<p>/topics/<t> path.
func NewReceiver(ctx context.Context, projectID, topicName, credentialsFile string, processor *GmailProcessor) (*Receiver, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	short := shortTopicName(topicName)
	return &Receiver{
		client:    client,
		processor: processor,
		topicName: short,
		subName:   short + "-sub", // Convention: topic-sub
	}, nil
}

func shortTopicName(topic string) string {
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			return topic[i+1:]
		}
	}
	return topic
}

// Start blocks receiving messages until ctx is cancelled.
func (r *Receiver) Start(ctx context.Context) {
	log := logger.Component("pubsub")
	log.Info().Str("topic", r.topicName).Str("subscription", r.subName).Msg("starting receiver")

	// Ensure subscription exists
	sub := r.client.Subscription(r.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		log.Error().Err(err).Msg("error checking subscription existence")
		return
	}

	if !exists {
		topic := r.client.Topic(r.topicName)
		topicExists, err := topic.Exists(ctx)
		if err != nil {
			log.Error().Err(err).Msg("error checking topic existence")
			return
		}
		if !topicExists {
			log.Error().Str("topic", r.topicName).Msg("topic does not exist, cannot create subscription")
			return
		}

		sub, err = r.client.CreateSubscription(ctx, r.subName, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 10 * time.Second,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to create subscription")
			return
		}
		log.Info().Str("subscription", r.subName).Msg("created subscription")
	}

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if r.handleMessage(ctx, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
	if err != nil {
		log.Error().Err(err).Msg("error receiving messages")
	}
}

// handleMessage reports whether the message should be acknowledged. Only
// transient refresh failures are redelivered.
func (r *Receiver) handleMessage(ctx context.Context, data []byte) bool {
	log := logger.Component("pubsub")
	n, err := ParseNotification(data)
	if err != nil {
		log.Warn().Err(err).Msg("dropping undecodable notification")
		return true
	}
	if _, err := r.processor.Process(ctx, n); err != nil {
		return false
	}
	return true
}

func (r *Receiver) Close() error {
	return r.client.Close()
}

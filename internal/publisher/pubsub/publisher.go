// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// Publisher publishes JSON payloads to Pub/Sub topics of one project.
type Publisher struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New wraps an existing client.
func New(client *pubsub.Client) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	return &Publisher{client: client, topics: make(map[string]*pubsub.Topic)}, nil
}

// Dial creates a client for projectID using Application Default Credentials
// and verifies that topicID exists.
func Dial(ctx context.Context, projectID, topicID string) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	p, err := New(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := p.VerifyTopic(ctx, topicID); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// VerifyTopic returns an error when topicID does not exist or cannot be read.
func (p *Publisher) VerifyTopic(ctx context.Context, topicID string) error {
	exists, err := p.topic(topicID).Exists(ctx)
	if err != nil {
		return fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		return fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, p.client.Project())
	}
	return nil
}

func (p *Publisher) topic(topicID string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[topicID]
	if !ok {
		t = p.client.Topic(topicID)
		p.topics[topicID] = t
	}
	return t
}

// Publish marshals the payload to JSON and waits for the server to assign a
// message ID.
func (p *Publisher) Publish(ctx context.Context, topicID string, payload any) (string, error) {
	if topicID == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	result := p.topic(topicID).Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content_type": "application/json"},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = map[string]*pubsub.Topic{}
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

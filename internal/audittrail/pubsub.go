package audittrail

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/domain"
)

// NewPubSubClient uses credentialsJSON when given, Application Default
// Credentials otherwise.
func NewPubSubClient(ctx context.Context, projectID, credentialsJSON string, opts ...option.ClientOption) (*pubsub.Client, error) {
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient -> %w", err)
	}

	return client, nil
}

// PubSubNotifier publishes events without waiting for the broker. Publish
// failures are logged and never reach the operator.
type PubSubNotifier struct {
	topic *pubsub.Topic
}

func NewPubSubNotifier(client *pubsub.Client, topicID string) *PubSubNotifier {
	return &PubSubNotifier{
		topic: client.Topic(topicID),
	}
}

func (n *PubSubNotifier) Notify(ctx context.Context, event domain.ReconciliationEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		zap.L().Error("failed to encode reconciliation event", zap.String("session_id", event.SessionID), zap.Error(err))
		return
	}

	result := n.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"session_id":        event.SessionID,
			"hospital_scope_id": event.HospitalScopeID,
		},
	})

	go func() {
		if _, err := result.Get(ctx); err != nil {
			zap.L().Warn("failed to publish reconciliation event", zap.String("session_id", event.SessionID), zap.Error(err))
		}
	}()
}

// Stop flushes pending publishes.
func (n *PubSubNotifier) Stop() {
	n.topic.Stop()
}

package dispatch

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

type messageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMPush publishes operator alerts to an FCM topic.
type FCMPush struct {
	client messageSender
	topic  string
}

// NewFCMPush returns nil, nil when no credentials file is configured.
func NewFCMPush(ctx context.Context, credentialsFile, topic string) (*FCMPush, error) {
	if credentialsFile == "" {
		return nil, nil
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}

	return &FCMPush{client: client, topic: topic}, nil
}

func (p *FCMPush) Push(ctx context.Context, title, body string, data map[string]string, urgent bool) error {
	msg := &messaging.Message{
		Topic: p.topic,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	}
	if urgent {
		msg.Android = &messaging.AndroidConfig{Priority: "high"}
		msg.APNS = &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
		}
	}

	if _, err := p.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("send push to topic %s: %w", p.topic, err)
	}
	return nil
}

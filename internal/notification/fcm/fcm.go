package fcm

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"nikarya-store/internal/config"
)

// Client pushes admin notifications to an FCM topic
type Client struct {
	app   *firebase.App
	topic string
	log   *logrus.Logger
}

// New creates a new FCM client. Without credentials it is a no-op.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger) *Client {
	c := &Client{topic: cfg.FCMTopic, log: log}
	if cfg.FirebaseCredentialsFile == "" {
		log.Warn("FCM: FIREBASE_CREDENTIALS_FILE not set, push notifications disabled")
		return c
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(cfg.FirebaseCredentialsFile))
	if err != nil {
		log.WithError(err).Warn("FCM: failed to initialize Firebase app")
		return c
	}

	log.Info("FCM: Firebase initialized")
	c.app = app
	return c
}

// Enabled reports whether Firebase was initialized
func (c *Client) Enabled() bool { return c.app != nil }

// NewMessage builds the topic message sent by SendToTopic
func NewMessage(topic, title, body string, data map[string]string) *messaging.Message {
	return &messaging.Message{
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data:  data,
		Topic: topic,
	}
}

// SendToTopic pushes a notification to the configured admin topic
func (c *Client) SendToTopic(ctx context.Context, title, body string, data map[string]string) error {
	if c.app == nil {
		return nil
	}
	if c.topic == "" {
		return fmt.Errorf("FCM: empty topic")
	}

	client, err := c.app.Messaging(ctx)
	if err != nil {
		return fmt.Errorf("FCM: error getting messaging client: %w", err)
	}

	response, err := client.Send(ctx, NewMessage(c.topic, title, body, data))
	if err != nil {
		return fmt.Errorf("FCM: error sending message: %w", err)
	}

	c.log.WithField("message_id", response).Debug("FCM: message sent")
	return nil
}

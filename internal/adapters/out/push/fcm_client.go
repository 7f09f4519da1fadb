// internal/adapters/out/push/fcm_client.go
package push

import (
	"context"
	"errors"
	"fmt"

	"firebase.google.com/go/v4/messaging"

	"github.com/ehgus2390/chineseapp/internal/application/notify"
)

// FCMClient sends multicast pushes through Firebase Cloud Messaging.
type FCMClient struct {
	Messaging *messaging.Client
}

func NewFCMClient(c *messaging.Client) *FCMClient {
	return &FCMClient{Messaging: c}
}

var _ notify.Push = (*FCMClient)(nil)

// SendMulticast sends one message to up to notify.MaxMulticastTokens
// tokens. Unregistered and malformed tokens are reported as Invalid.
func (c *FCMClient) SendMulticast(ctx context.Context, msg notify.Message) ([]notify.Result, error) {
	if c == nil || c.Messaging == nil {
		return nil, notify.ErrPushNotConfigured
	}
	if len(msg.Tokens) == 0 {
		return nil, nil
	}
	if len(msg.Tokens) > notify.MaxMulticastTokens {
		return nil, fmt.Errorf("push: %d tokens exceed the multicast limit", len(msg.Tokens))
	}

	br, err := c.Messaging.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens: msg.Tokens,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("push: send multicast: %w", err)
	}
	if br == nil || len(br.Responses) != len(msg.Tokens) {
		return nil, errors.New("push: response count does not match tokens")
	}

	out := make([]notify.Result, len(msg.Tokens))
	for i, r := range br.Responses {
		out[i] = notify.Result{Token: msg.Tokens[i], OK: r.Success}
		if r.Success {
			continue
		}
		out[i].Err = r.Error
		out[i].Invalid = messaging.IsUnregistered(r.Error) || messaging.IsInvalidArgument(r.Error)
	}
	return out, nil
}

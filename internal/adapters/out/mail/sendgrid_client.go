package mail

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/ehgus2390/chineseapp/internal/application/moderation"
)

var ErrNotConfigured = errors.New("mail: sendgrid not configured")

// SendGridClient implements moderation.Mailer.
type SendGridClient struct {
	apiKey   string
	from     string
	fromName string
	log      *zap.Logger
}

func NewSendGridClient(apiKey, from string, log *zap.Logger) *SendGridClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &SendGridClient{apiKey: apiKey, from: from, fromName: "kkiri safety", log: log.Named("sendgrid")}
}

var _ moderation.Mailer = (*SendGridClient)(nil)

// Send delivers m as text with a <pre> HTML twin.
func (c *SendGridClient) Send(ctx context.Context, m moderation.Mail) error {
	if c == nil || c.apiKey == "" {
		return ErrNotConfigured
	}
	if c.from == "" {
		return fmt.Errorf("from address is empty")
	}
	if m.To == "" {
		return fmt.Errorf("to address is empty")
	}

	message := sgmail.NewSingleEmail(
		sgmail.NewEmail(c.fromName, c.from),
		m.Subject,
		sgmail.NewEmail("", m.To),
		m.Text,
		fmt.Sprintf("<pre>%s</pre>", html.EscapeString(m.Text)),
	)

	client := sendgrid.NewSendClient(c.apiKey)
	response, err := client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send error: %w", err)
	}
	if response.StatusCode >= 400 {
		c.log.Warn("sendgrid rejected mail", zap.Int("status", response.StatusCode), zap.String("body", response.Body))
		return fmt.Errorf("sendgrid send failed: status=%d, body=%s", response.StatusCode, response.Body)
	}

	c.log.Info("mail sent", zap.Int("status", response.StatusCode), zap.String("to", m.To), zap.String("subject", m.Subject))
	return nil
}

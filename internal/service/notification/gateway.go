package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jwalitptl/referral-api/internal/config"
	"github.com/jwalitptl/referral-api/internal/email"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/pkg/messaging"
)

// Sender delivers one notification to one address on a single channel.
type Sender interface {
	Send(ctx context.Context, address string, n *model.Notification) error
}

type emailSender struct {
	svc email.Service
}

func NewEmailSender(svc email.Service) Sender {
	return &emailSender{svc: svc}
}

func (s *emailSender) Send(ctx context.Context, address string, n *model.Notification) error {
	return s.svc.Send(ctx, address, n.Subject, n.Body)
}

type whatsAppText struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type whatsAppSender struct {
	client *resty.Client
	sender string
}

// NewWhatsAppSender posts text messages to a WhatsApp Cloud style endpoint
// at {base_url}/{sender}/messages.
func NewWhatsAppSender(cfg config.GatewayConfig) Sender {
	return &whatsAppSender{client: newGatewayClient(cfg), sender: cfg.Sender}
}

func (s *whatsAppSender) Send(ctx context.Context, address string, n *model.Notification) error {
	msg := whatsAppText{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               address,
		Type:             "text",
	}
	msg.Text.Body = n.Subject + "\n" + n.Body

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(msg).
		Post("/" + s.sender + "/messages")
	return gatewayResult("whatsapp", resp, err)
}

type smsMessage struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

type smsSender struct {
	client *resty.Client
	from   string
}

func NewSMSSender(cfg config.GatewayConfig) Sender {
	return &smsSender{client: newGatewayClient(cfg), from: cfg.Sender}
}

func (s *smsSender) Send(ctx context.Context, address string, n *model.Notification) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(smsMessage{From: s.from, To: address, Body: n.Subject + ": " + n.Body}).
		Post("/messages")
	return gatewayResult("sms", resp, err)
}

type inAppSender struct {
	broker messaging.Broker
	prefix string
}

// NewInAppSender publishes to the Redis channel prefix+address, where address is a user id.
func NewInAppSender(broker messaging.Broker, prefix string) Sender {
	return &inAppSender{broker: broker, prefix: prefix}
}

func (s *inAppSender) Send(ctx context.Context, address string, n *model.Notification) error {
	if err := s.broker.Publish(ctx, s.prefix+address, messaging.Message{Type: n.Event, Payload: n}); err != nil {
		return fmt.Errorf("failed to publish in-app notification: %w", err)
	}
	return nil
}

func newGatewayClient(cfg config.GatewayConfig) *resty.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetAuthToken(cfg.Token).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

func gatewayResult(name string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("failed to call %s gateway: %w", name, err)
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return fmt.Errorf("%s gateway returned %d: %s", name, resp.StatusCode(), resp.String())
	}
	return nil
}

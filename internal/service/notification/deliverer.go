package notification

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/pkg/logger"
)

// Deliverer turns a claimed outbox event back into a notification and sends it
// on every recipient channel. Facility and user recipients without an address are
// expanded through the contact directory.
type Deliverer struct {
	senders  map[model.NotificationChannel]Sender
	contacts repository.ContactRepository
	logger   *logger.Logger
}

func NewDeliverer(contacts repository.ContactRepository, logger *logger.Logger) *Deliverer {
	return &Deliverer{
		senders:  make(map[model.NotificationChannel]Sender),
		contacts: contacts,
		logger:   logger,
	}
}

// Register enables a channel. Recipients on channels without a sender are skipped.
func (d *Deliverer) Register(channel model.NotificationChannel, s Sender) *Deliverer {
	d.senders[channel] = s
	return d
}

func (d *Deliverer) Deliver(ctx context.Context, event *model.OutboxEvent) error {
	var n model.Notification
	if err := json.Unmarshal(event.Payload, &n); err != nil {
		return fmt.Errorf("failed to decode notification %s: %w", event.ID, err)
	}

	targets, err := d.resolve(ctx, n.Recipients)
	if err != nil {
		return err
	}

	var errs []error
	for _, t := range targets {
		sender, ok := d.senders[t.channel]
		if !ok {
			d.logger.Debug("No sender for channel", "channel", string(t.channel), "event", n.Event)
			continue
		}
		if err := sender.Send(ctx, t.address, &n); err != nil {
			errs = append(errs, fmt.Errorf("%s to %s: %w", t.channel, t.address, err))
		}
	}
	return stderrors.Join(errs...)
}

type target struct {
	channel model.NotificationChannel
	address string
}

func (d *Deliverer) resolve(ctx context.Context, recipients []model.Recipient) ([]target, error) {
	seen := make(map[target]struct{})
	var out []target
	add := func(t target) {
		if t.address == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	for _, r := range recipients {
		if r.Address != "" {
			add(target{channel: r.Channel, address: r.Address})
			continue
		}

		var contacts []*model.Contact
		var err error
		switch {
		case r.UserID != nil && r.Channel == model.ChannelInApp:
			add(target{channel: model.ChannelInApp, address: r.UserID.String()})
			continue
		case r.UserID != nil:
			contacts, err = d.contacts.ListByUser(ctx, *r.UserID)
		case r.FacilityID != nil:
			contacts, err = d.contacts.ListByFacility(ctx, *r.FacilityID)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve recipients: %w", err)
		}
		for _, c := range contacts {
			if r.Channel != "" && c.Channel != r.Channel {
				continue
			}
			add(target{channel: c.Channel, address: c.Address})
		}
	}
	return out, nil
}

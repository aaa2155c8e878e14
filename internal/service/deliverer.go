package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/torque-notifications/internal/domain"
	"github.com/notifyhub/torque-notifications/internal/repository"
	"github.com/notifyhub/torque-notifications/internal/sender"
)

// DeliveryHooks are metric callbacks; nil fields are skipped.
type DeliveryHooks struct {
	OnSent   func(ch domain.Channel, latency time.Duration)
	OnFailed func(ch domain.Channel)
	OnStale  func()
}

// Delivered is one dispatch sent during a delivery.
type Delivered struct {
	DispatchID string         `json:"dispatch_id"`
	Channel    domain.Channel `json:"channel"`
	To         string         `json:"to"`
	MessageID  string         `json:"message_id,omitempty"`
	SentAt     time.Time      `json:"sent_at"`
}

// DeliveryResult is the outcome of one delivery task.
type DeliveryResult struct {
	Dispatched []Delivered `json:"dispatched"`
	Stale      bool        `json:"stale"`
}

// Deliverer runs the delivery task of one user: it sends every unsent
// dispatch of the user's unread notifications and marks them sent.
type Deliverer struct {
	store       repository.Store
	senders     *sender.Registry
	views       sender.Views
	fromAddress string
	hooks       DeliveryHooks
	logger      *zap.Logger
	now         func() time.Time
}

func NewDeliverer(
	store repository.Store,
	senders *sender.Registry,
	views sender.Views,
	fromAddress string,
	hooks DeliveryHooks,
	logger *zap.Logger,
) *Deliverer {
	return &Deliverer{
		store:       store,
		senders:     senders,
		views:       views,
		fromAddress: fromAddress,
		hooks:       hooks,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (d *Deliverer) WithClock(now func() time.Time) *Deliverer {
	d.now = now
	return d
}

// Deliver checks latestHash against the user's current token and, when it
// matches, sends the user's unsent dispatches in order.
//
// A task whose hash no longer matches is stale: it succeeds without sending.
// When a send fails the loop stops; dispatches sent so far stay marked sent
// and the error is returned together with the partial result.
//
// ctx bounds the sends only. Store work runs on a context that outlives ctx
// so the marks of completed sends are committed even after ctx ends.
func (d *Deliverer) Deliver(ctx context.Context, userID, latestHash string) (*DeliveryResult, error) {
	result := &DeliveryResult{Dispatched: []Delivered{}}
	log := d.logger.With(zap.String("user_id", userID))
	txCtx := context.WithoutCancel(ctx)

	var sendErr error
	err := d.store.WithTx(txCtx, func(tx repository.Tx) error {
		if _, err := tx.GetUser(txCtx, userID); err != nil {
			return err
		}
		prefs, err := tx.LockPreferences(txCtx, userID)
		if err != nil {
			return err
		}

		if prefs.Token != latestHash {
			result.Stale = true
			if d.hooks.OnStale != nil {
				d.hooks.OnStale()
			}
			log.Info("stale delivery task ignored")
			return nil
		}
		if prefs.Frequency == domain.FrequencyNever {
			return nil
		}

		dispatches, err := tx.ListUnsentDispatches(txCtx, userID)
		if err != nil {
			return err
		}

		for _, dispatch := range dispatches {
			if err := ctx.Err(); err != nil {
				sendErr = fmt.Errorf("dispatch %s not attempted: %w", dispatch.ID, err)
				return nil
			}
			start := time.Now()
			meta, err := d.send(ctx, txCtx, tx, dispatch)
			if err != nil {
				if d.hooks.OnFailed != nil {
					d.hooks.OnFailed(dispatch.Channel)
				}
				log.Error("dispatch send failed",
					zap.String("dispatch_id", dispatch.ID),
					zap.String("channel", string(dispatch.Channel)),
					zap.Error(err),
				)
				sendErr = fmt.Errorf("dispatch %s: %w", dispatch.ID, err)
				return nil
			}

			sentAt := d.now().UTC()
			marked, err := tx.MarkDispatchSent(txCtx, dispatch.ID, sentAt)
			if err != nil {
				return err
			}
			if !marked {
				continue
			}
			if d.hooks.OnSent != nil {
				d.hooks.OnSent(dispatch.Channel, time.Since(start))
			}
			result.Dispatched = append(result.Dispatched, Delivered{
				DispatchID: dispatch.ID,
				Channel:    dispatch.Channel,
				To:         meta.To,
				MessageID:  meta.MessageID,
				SentAt:     sentAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("delivery finished",
		zap.Int("sent", len(result.Dispatched)),
		zap.Bool("stale", result.Stale),
		zap.Bool("failed", sendErr != nil),
	)
	return result, sendErr
}

func (d *Deliverer) send(ctx, txCtx context.Context, tx repository.Tx, dispatch *domain.Dispatch) (*sender.SentMeta, error) {
	n, err := tx.GetNotification(txCtx, dispatch.NotificationID)
	if err != nil {
		return nil, fmt.Errorf("load notification: %w", err)
	}
	event, err := tx.GetEvent(txCtx, n.EventID)
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}

	viewData, err := d.views.Data(ctx, dispatch.View, sender.ViewInput{
		Event:        event,
		Notification: n,
		Dispatch:     dispatch,
	})
	if err != nil {
		return nil, err
	}
	data := sender.BuildData(viewData, dispatch, event, d.fromAddress)

	s, err := d.senders.For(dispatch.Channel)
	if err != nil {
		return nil, err
	}
	// Every dispatch goes out on its own; BatchSpec stays recorded on the row
	// for a renderer that folds a user's batch into one message.
	return s.Send(ctx, sender.TemplateSpec(dispatch.SingleSpec), data)
}

// IsRetryable reports whether a delivery error should make the work engine
// retry the task.
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrTransport) || errors.Is(err, context.DeadlineExceeded)
}

package sender

import (
	"context"
	"fmt"

	"github.com/notifyhub/torque-notifications/internal/domain"
)

// ViewInput is what a view function sees of the dispatch being sent.
type ViewInput struct {
	Event        *domain.Event
	Notification *domain.Notification
	Dispatch     *domain.Dispatch
}

// ViewFunc produces the template data of a dispatch.
type ViewFunc func(ctx context.Context, in ViewInput) (Data, error)

// Views maps view names, as captured on dispatches, to functions.
type Views map[string]ViewFunc

// DefaultViews contains the "default" view, which exposes the event context
// attributes under "context".
func DefaultViews() Views {
	return Views{
		"default": func(_ context.Context, in ViewInput) (Data, error) {
			return Data{"context": in.Event.Context}, nil
		},
	}
}

// Data runs the named view.
func (v Views) Data(ctx context.Context, name string, in ViewInput) (Data, error) {
	fn, ok := v[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownView, name)
	}
	data, err := fn(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("view %q: %w", name, err)
	}
	return data, nil
}

// BuildData merges view data with the dispatch defaults. Keys set by the
// view win.
func BuildData(view Data, d *domain.Dispatch, e *domain.Event, fromAddress string) Data {
	subject := d.Subject
	if subject == "" {
		subject = fmt.Sprintf("%s %s", e.Target, e.Type)
	}
	defaults := Data{
		"subject":      subject,
		"to_address":   d.ToAddress,
		"from_address": fromAddress,
		"bcc_address":  d.BCCAddress,
		"target":       e.Target,
		"event":        e,
		"action":       e.Type,
	}

	data := make(Data, len(view)+len(defaults))
	for k, v := range defaults {
		data[k] = v
	}
	for k, v := range view {
		data[k] = v
	}
	return data
}

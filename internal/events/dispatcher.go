package events

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Handler processes the upload events it accepts.
type Handler interface {
	Name() string
	Accepts(ev UploadEvent) bool
	Handle(ctx context.Context, ev UploadEvent) error
}

// Dispatcher routes each event to the first handler that accepts it.
type Dispatcher struct {
	handlers []Handler
	logger   *zap.Logger
}

// NewDispatcher constructs a Dispatcher over handlers, checked in order.
func NewDispatcher(logger *zap.Logger, handlers ...Handler) *Dispatcher {
	return &Dispatcher{handlers: handlers, logger: logger}
}

// Dispatch runs every event through its handler. Events nobody accepts are
// ignored; handler errors are collected and returned together.
func (d *Dispatcher) Dispatch(ctx context.Context, evs []UploadEvent) error {
	var errs *multierror.Error
	for _, ev := range evs {
		h := d.route(ev)
		if h == nil {
			d.logger.Debug("ignoring upload event",
				zap.String("bucket", ev.Bucket),
				zap.String("storage_path", ev.ObjectPath),
				zap.String("content_type", ev.ContentType))
			continue
		}
		if err := h.Handle(ctx, ev); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// DispatchRaw parses a raw bucket notification and dispatches its events.
func (d *Dispatcher) DispatchRaw(ctx context.Context, raw []byte) error {
	evs, err := ParseNotification(raw)
	if err != nil {
		return err
	}
	return d.Dispatch(ctx, evs)
}

func (d *Dispatcher) route(ev UploadEvent) Handler {
	for _, h := range d.handlers {
		if h.Accepts(ev) {
			return h
		}
	}
	return nil
}

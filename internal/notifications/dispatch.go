package notifications

import (
	"context"
	"log/slog"
	"time"

	"vodwatch/internal/logging"
)

const dispatchTimeout = 15 * time.Second

// Dispatcher sends notifications without blocking the caller. State writes
// must never wait on, or fail because of, notification delivery.
type Dispatcher struct {
	service Service
	logger  *slog.Logger
	onError func()
}

// NewDispatcher wraps a notification service for asynchronous delivery.
// onError is invoked once per failed delivery and may be nil.
func NewDispatcher(service Service, logger *slog.Logger, onError func()) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{service: service, logger: logger, onError: onError}
}

// Service returns the wrapped notification service for synchronous use.
func (d *Dispatcher) Service() Service {
	return d.service
}

// Dispatch runs send on its own goroutine with a bounded deadline. Delivery
// failures are logged and counted, never propagated.
func (d *Dispatcher) Dispatch(event string, send func(ctx context.Context) error) {
	if d == nil || d.service == nil || send == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("notification dispatch panicked",
					logging.String(logging.FieldEventType, event),
					logging.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()

		if err := send(ctx); err != nil {
			if d.onError != nil {
				d.onError()
			}
			d.logger.Warn("notification delivery failed",
				logging.String(logging.FieldEventType, event),
				logging.Error(err))
		}
	}()
}

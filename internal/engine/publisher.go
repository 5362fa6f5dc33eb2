package engine

import (
	"context"
	"errors"

	"github.com/xela07ax/constraint-ledger/internal/eventlog"
)

// Publisher раздаёт записанные события подписчикам (шина, проекции).
// Доставка best-effort: ошибка не откатывает запись в журнал.
type Publisher interface {
	Publish(ctx context.Context, evt eventlog.RecordedEvent) error
}

// Publishers - fan-out на несколько получателей.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, evt eventlog.RecordedEvent) error {
	var errs []error
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublisherFunc позволяет использовать функцию как Publisher.
type PublisherFunc func(ctx context.Context, evt eventlog.RecordedEvent) error

func (f PublisherFunc) Publish(ctx context.Context, evt eventlog.RecordedEvent) error {
	return f(ctx, evt)
}

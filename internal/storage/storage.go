package storage

import (
	"context"

	"swapCore/internal/model"
)

// Journal is a sink for saga events.
type Journal interface {
	PutEvents(ctx context.Context, events []model.SagaEvent) error
}

// History reads back the events of one saga in emission order.
type History interface {
	EventsBySaga(ctx context.Context, sagaID string) ([]model.SagaEvent, error)
}

// Multi fans a batch out to several journals, stopping at the first error.
type Multi []Journal

func (m Multi) PutEvents(ctx context.Context, events []model.SagaEvent) error {
	for _, journal := range m {
		if journal == nil {
			continue
		}
		if err := journal.PutEvents(ctx, events); err != nil {
			return err
		}
	}
	return nil
}

package order

import (
	"context"
	"errors"

	"github.com/akriventsev/hotdeal/framework/core"
	"github.com/akriventsev/hotdeal/framework/events"
	"github.com/akriventsev/hotdeal/internal/ledger"
)

// mapStoreError переводит ошибку кэша существования в код ответа
func mapStoreError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrStoreNotFound):
		return core.Wrap(err, core.ErrNotFound, MessageStoreNotFound)
	default:
		return mapTransportError(err)
	}
}

// mapPointError переводит ошибку леджера баллов в код ответа
func mapPointError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientQuantity):
		return core.Wrap(err, core.ErrBadRequest, MessageInsufficientPoint)
	case errors.Is(err, ledger.ErrSourceNotFound):
		return core.Wrap(err, core.ErrBadRequest, MessageUnknownUser)
	case errors.Is(err, ledger.ErrVersionCorrupt), errors.Is(err, ledger.ErrQuantityCorrupt):
		return core.Wrap(err, core.ErrInternal, MessageCorruptPoint)
	default:
		return mapTransportError(err)
	}
}

// mapStockError переводит ошибку леджера остатков в код ответа
func mapStockError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientQuantity):
		return core.Wrap(err, core.ErrBadRequest, MessageInsufficientStock)
	case errors.Is(err, ledger.ErrSourceNotFound):
		return core.Wrap(err, core.ErrBadRequest, MessageUnknownItem)
	case errors.Is(err, ledger.ErrVersionCorrupt), errors.Is(err, ledger.ErrQuantityCorrupt):
		return core.Wrap(err, core.ErrInternal, MessageCorruptStock)
	default:
		return mapTransportError(err)
	}
}

// mapTransportError: недоступность и таймауты - UNAVAILABLE, остальное - INTERNAL
func mapTransportError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrUnavailable),
		errors.Is(err, events.ErrPublishUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return core.Wrap(err, core.ErrUnavailable, MessageUnavailable)
	default:
		return core.Wrap(err, core.ErrInternal, "order processing failed")
	}
}

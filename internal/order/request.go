// Package order создает заказы: проверяет магазин, списывает баллы и остатки и публикует события.
package order

import (
	"fmt"

	"github.com/akriventsev/hotdeal/framework/core"
)

// Сообщения, видимые вызывающей стороне
const (
	MessageCreated           = "order created"
	MessageStoreNotFound     = "store not found"
	MessageInsufficientPoint = "insufficient points, charge your points"
	MessageUnknownUser       = "cannot verify user"
	MessageInsufficientStock = "insufficient stock"
	MessageUnknownItem       = "cannot find item stock"
	MessageCorruptPoint      = "cannot read user point version"
	MessageCorruptStock      = "cannot read item stock version"
	MessageUnavailable       = "service temporarily unavailable"
)

// Item позиция заказа
type Item struct {
	ItemID int64 `json:"itemId"`
	Count  int64 `json:"count"`
}

// Request запрос на создание заказа
type Request struct {
	StoreID    int64  `json:"storeId"`
	TotalPrice int64  `json:"totalPrice"`
	Discount   *int64 `json:"discount,omitempty"`
	Items      []Item `json:"items"`
}

// Result результат создания заказа
type Result struct {
	Message string `json:"message"`
}

// Validate проверяет запрос до обращения к кэшу
func (r Request) Validate() error {
	if len(r.Items) == 0 {
		return core.NewError(core.ErrBadRequest, "order must contain at least one item")
	}
	if r.TotalPrice < 0 {
		return core.NewError(core.ErrBadRequest, "totalPrice must not be negative")
	}
	for i, item := range r.Items {
		if item.Count <= 0 {
			return core.NewError(core.ErrBadRequest, fmt.Sprintf("items[%d].count must be positive", i))
		}
	}
	return nil
}

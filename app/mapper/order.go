package mapper

import (
	"time"

	"github.com/luastore/ms-go-checkout/app/entity"
	"github.com/luastore/ms-go-checkout/app/types"
)

func OrderToProto(item *entity.Order) *types.Order {
	if item == nil {
		return nil
	}

	return &types.Order{
		Id:                 item.ID,
		OrderRef:           item.OrderRef,
		CustomerName:       item.CustomerName,
		CustomerEmail:      item.CustomerEmail,
		AmountCents:        item.AmountCents,
		Currency:           item.Currency,
		Status:             types.OrderStatus(item.Status),
		StatusLabel:        types.OrderStatus(item.Status).String(),
		Provider:           types.ProviderType(item.Provider),
		ProviderReference:  derefString(item.ProviderReference),
		CheckoutUrl:        derefString(item.CheckoutURL),
		PixCode:            derefString(item.PixCode),
		PixCodeImageBase64: derefString(item.PixCodeImageBase64),
		PixExpiresAt:       formatTime(item.ExpiresAt),
		PaidAt:             formatTime(item.PaidAt),
		Items:              itemsToProto(item.Items),
		Metadata:           cloneMetadata(item.Metadata),
		CreatedAt:          item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func OrdersToProto(items []*entity.Order) []*types.Order {
	result := make([]*types.Order, 0, len(items))
	for _, item := range items {
		result = append(result, OrderToProto(item))
	}
	return result
}

func OrderEventsToProto(items []*entity.OrderEvent) []*types.OrderEvent {
	result := make([]*types.OrderEvent, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		result = append(result, &types.OrderEvent{
			Id:              item.ID,
			OrderId:         item.OrderID,
			EventKind:       item.EventKind,
			OldStatus:       item.OldStatus,
			NewStatus:       item.NewStatus,
			WebhookRecordId: item.WebhookRecordID,
			CreatedAt:       item.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return result
}

func itemsToProto(items []entity.OrderItem) []types.CheckoutItem {
	result := make([]types.CheckoutItem, 0, len(items))
	for _, item := range items {
		result = append(result, types.CheckoutItem{
			ProductRef:     item.ProductRef,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}
	return result
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}

func cloneMetadata(src map[string]string) map[string]string {
	if len(src) == 0 {
		return map[string]string{}
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

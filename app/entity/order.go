package entity

import "time"

type Order struct {
	ID uint64

	OrderRef string

	CustomerName  string
	CustomerEmail string
	CustomerPhone *string
	CustomerTaxID *string

	AmountCents int64
	Currency    string

	Status   int32
	Provider int32

	ProviderReference  *string
	CheckoutURL        *string
	PixCode            *string
	PixCodeImageBase64 *string

	CallbackHash string

	ExpiresAt *time.Time
	PaidAt    *time.Time

	Metadata map[string]string

	Items []OrderItem

	CreatedAt time.Time
	UpdatedAt time.Time
}

type OrderItem struct {
	ID      uint64
	OrderID uint64

	ProductRef     string
	Name           string
	Quantity       int32
	UnitPriceCents int64
}

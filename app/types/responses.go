package types

type Order struct {
	Id                 uint64            `json:"id"`
	OrderRef           string            `json:"order_ref"`
	CustomerName       string            `json:"customer_name,omitempty"`
	CustomerEmail      string            `json:"customer_email"`
	AmountCents        int64             `json:"amount_cents"`
	Currency           string            `json:"currency"`
	Status             OrderStatus       `json:"status"`
	StatusLabel        string            `json:"status_label"`
	Provider           ProviderType      `json:"provider"`
	ProviderReference  string            `json:"provider_reference,omitempty"`
	CheckoutUrl        string            `json:"checkout_url,omitempty"`
	PixCode            string            `json:"pix_code,omitempty"`
	PixCodeImageBase64 string            `json:"pix_code_image_base64,omitempty"`
	PixExpiresAt       string            `json:"pix_expires_at,omitempty"`
	PaidAt             string            `json:"paid_at,omitempty"`
	Items              []CheckoutItem    `json:"items"`
	Metadata           map[string]string `json:"metadata"`
	CreatedAt          string            `json:"created_at"`
	UpdatedAt          string            `json:"updated_at"`
}

type OrderEnvelopeResponse struct {
	Order *Order `json:"order"`
}

type OrderEvent struct {
	Id              uint64  `json:"id"`
	OrderId         uint64  `json:"order_id"`
	EventKind       string  `json:"event_kind"`
	OldStatus       *int32  `json:"old_status,omitempty"`
	NewStatus       int32   `json:"new_status"`
	WebhookRecordId *uint64 `json:"webhook_record_id,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

type ListOrderEventsResponse struct {
	Events []*OrderEvent `json:"events"`
}

type ListOrdersResponse struct {
	Orders []*Order `json:"orders"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

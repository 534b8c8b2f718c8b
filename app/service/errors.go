package service

import "errors"

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidStatus       = errors.New("invalid status")
	ErrProviderUnsupported = errors.New("provider is not supported")
	ErrUntrustedEvent      = errors.New("webhook signature is not trusted")
	ErrWebhookRejected     = errors.New("webhook rejected")
)

package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrWSDisconnect      = errors.New("websocket disconnected")
	ErrInvalidLevel      = errors.New("invalid price level")
	ErrInvalidRequest    = errors.New("invalid trade request")
	ErrInvalidTransition = errors.New("invalid connection state transition")
	ErrNoSnapshot        = errors.New("no order book snapshot")
	ErrStale             = errors.New("order book is stale")
)

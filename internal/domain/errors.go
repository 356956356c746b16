package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrWSDisconnect    = errors.New("websocket disconnected")
	ErrLockHeld        = errors.New("lock already held")
	ErrMalformedCandle = errors.New("malformed candle")
	ErrUnknownZoneKind = errors.New("unknown edge zone kind")
)

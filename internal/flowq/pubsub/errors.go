package pubsub

import "errors"

var (
	ErrPublisherClosed  = errors.New("publisher is closed")
	ErrSubscriberClosed = errors.New("subscriber is closed")
)

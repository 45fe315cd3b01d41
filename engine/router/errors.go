package router

import "errors"

var (
	// ErrFrameDecode is returned when a packet's wire frame is malformed.
	ErrFrameDecode = errors.New("router: frame decode error")
	// ErrConsumerUnreachable is returned when a consumer's transport
	// write fails and the consumer is dropped.
	ErrConsumerUnreachable = errors.New("router: consumer unreachable")
	// ErrUnknownConsumer is returned by Unregister for a session id the
	// router has no record of.
	ErrUnknownConsumer = errors.New("router: unknown consumer session")
	// ErrUnsupportedProtocol is returned when a consumer registers with a
	// Protocol value the router has no adapter for.
	ErrUnsupportedProtocol = errors.New("router: unsupported protocol")
)

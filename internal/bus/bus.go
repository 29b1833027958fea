package bus

import (
	"errors"
	"fmt"

	"github.com/opensource-finance/loanpricer/internal/domain"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bus is closed")

	// ErrNoReplyTo is returned when replying to a message that was not sent
	// with Request.
	ErrNoReplyTo = errors.New("message has no reply subject")
)

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

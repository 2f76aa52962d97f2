package bot

import (
	"errors"
	"fmt"
)

// DeliveryError reports a message that could not be posted to a channel.
type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering to %s: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

var errInvalidAuth = errors.New("slack: invalid authentication token")

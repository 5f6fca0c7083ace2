package relay

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/relay/discovery"
)

// Invoke runs a typed call through the client. Methods cannot carry type
// parameters, so this lives as a package function over Client.Call.
func Invoke[T any](ctx context.Context, c *Client, service string, fn func(ctx context.Context, inst discovery.Instance) (T, error)) (T, error) {
	var zero T

	result, err := c.Call(ctx, service, func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
		return fn(ctx, inst)
	})
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}

	value, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected result type %T", result)
	}
	return value, nil
}

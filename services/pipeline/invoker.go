package pipeline

import (
	"context"
)

// Invoker performs the backend generation call
type Invoker interface {
	Invoke(ctx context.Context, req RequestEnvelope) (ResponseEnvelope, error)
}

// InvokerFunc adapts a function to the Invoker interface
type InvokerFunc func(ctx context.Context, req RequestEnvelope) (ResponseEnvelope, error)

// Invoke calls f
func (f InvokerFunc) Invoke(ctx context.Context, req RequestEnvelope) (ResponseEnvelope, error) {
	return f(ctx, req)
}

// Named is implemented by invokers that can report which backend they call
type Named interface {
	Name() string
}

func invokerName(inv Invoker) string {
	if n, ok := inv.(Named); ok {
		return n.Name()
	}
	return "backend"
}

package clog

import (
	"context"
	"sync"
)

// ErrorAttributeKey is the attribute key used for errors attached via AddError.
const ErrorAttributeKey = "error"

// StackAttributeKey is the attribute key used for stacks attached via AddStack.
const StackAttributeKey = "stack"

type ctxAttrs struct {
	mu         sync.RWMutex
	attributes map[string]any
}

type ctxAttrsKey struct{}

// ContextWithAttrs returns a context that collects log attributes which the
// AttributesHandler folds into every record logged with that context.
func ContextWithAttrs(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxAttrsKey{}, &ctxAttrs{
		attributes: make(map[string]any),
	})
}

func AddAttribute(ctx context.Context, key string, value any) {
	a, ok := ctx.Value(ctxAttrsKey{}).(*ctxAttrs)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attributes[key] = value
}

func AddAttributes(ctx context.Context, attributes map[string]any) {
	a, ok := ctx.Value(ctxAttrsKey{}).(*ctxAttrs)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range attributes {
		a.attributes[k] = v
	}
}

func AddError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	AddAttribute(ctx, ErrorAttributeKey, err.Error())
}

func AddStack(ctx context.Context, stack string) {
	if stack == "" {
		return
	}
	AddAttribute(ctx, StackAttributeKey, stack)
}

func GetAttributes(ctx context.Context) map[string]any {
	a, ok := ctx.Value(ctxAttrsKey{}).(*ctxAttrs)
	if !ok {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]any, len(a.attributes))
	for k, v := range a.attributes {
		out[k] = v
	}
	return out
}

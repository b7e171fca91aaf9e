package jobexec

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/jobexec/internal/domain"
)

// ExecutionContext describes the job a handler is running.
type ExecutionContext struct {
	JobID               string
	Kind                domain.Kind
	HandlerType         string
	TenantID            string
	ExecutionID         string
	ProcessInstanceID   string
	ProcessDefinitionID string
	// Attempt is 1 for the first execution and grows with every retry.
	Attempt         int
	Owner           string
	LeaseExpiration time.Time
	Logger          *zap.Logger
}

// Handler runs one job. Returning an error, or panicking, fails the attempt.
// The context is cancelled only when engine shutdown runs out of time, never
// at lease expiry.
type Handler interface {
	Execute(ctx context.Context, ec ExecutionContext, configuration []byte) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ec ExecutionContext, configuration []byte) error

func (f HandlerFunc) Execute(ctx context.Context, ec ExecutionContext, configuration []byte) error {
	return f(ctx, ec, configuration)
}

// Registry maps handler types to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds handlerType to h. Registering a type twice is an error.
func (r *Registry) Register(handlerType string, h Handler) error {
	if handlerType == "" || h == nil {
		return fmt.Errorf("jobexec: handler type and handler are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[handlerType]; ok {
		return fmt.Errorf("jobexec: handler %q already registered", handlerType)
	}
	r.handlers[handlerType] = h
	return nil
}

// Lookup returns the handler for handlerType or an error wrapping
// domain.ErrNoHandler.
func (r *Registry) Lookup(handlerType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[handlerType]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNoHandler, "handler type %q", handlerType)
	}
	return h, nil
}

// Types returns the registered handler types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/HorizonRepublic/jetbridge-go/contracts"
)

// EventHandler processes a fire-and-forget event payload.
type EventHandler func(ctx context.Context, payload any) error

// CommandHandler processes a command payload and returns the reply value.
type CommandHandler func(ctx context.Context, payload any) (any, error)

type registration struct {
	pattern string
	tokens  []string
	kind    contracts.Kind
	event   EventHandler
	command CommandHandler
}

// Dispatcher collects handler registrations into a routing table consulted
// by the router. Registrations are accepted until the table is sealed, which
// happens when consumption starts; from then on the table is immutable.
type Dispatcher struct {
	mu     sync.RWMutex
	sealed bool
	exact  map[contracts.Kind]map[string]*registration
	wild   map[contracts.Kind][]*registration
	logger *slog.Logger
}

// DispatcherOption configures the Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates an empty routing table.
func NewDispatcher(options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		exact:  make(map[contracts.Kind]map[string]*registration),
		wild:   make(map[contracts.Kind][]*registration),
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// OnEvent registers an event handler for a subject pattern. Patterns may use
// "*" for a single token and ">" for the remaining tokens.
func (d *Dispatcher) OnEvent(pattern string, handler EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}
	return d.register(&registration{
		pattern: pattern,
		kind:    contracts.KindEvent,
		event:   handler,
	})
}

// OnCommand registers a command handler for a subject pattern.
func (d *Dispatcher) OnCommand(pattern string, handler CommandHandler) error {
	if handler == nil {
		return ErrNilHandler
	}
	return d.register(&registration{
		pattern: pattern,
		kind:    contracts.KindCommand,
		command: handler,
	})
}

func (d *Dispatcher) register(reg *registration) error {
	if reg.pattern == "" {
		return ErrEmptyPattern
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sealed {
		return ErrTableSealed
	}

	if d.exact[reg.kind] == nil {
		d.exact[reg.kind] = make(map[string]*registration)
	}
	if _, dup := d.exact[reg.kind][reg.pattern]; dup {
		return ErrDuplicatePattern
	}

	reg.tokens = strings.Split(reg.pattern, ".")
	d.exact[reg.kind][reg.pattern] = reg
	if strings.ContainsAny(reg.pattern, "*>") {
		d.wild[reg.kind] = append(d.wild[reg.kind], reg)
	}

	d.logger.Debug("handler registered", "pattern", reg.pattern, "kind", reg.kind)
	return nil
}

// Seal freezes the routing table. Further registrations fail.
func (d *Dispatcher) Seal() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sealed = true
}

// Resolve finds the handler for a delivered pattern: exact match first, then
// hierarchical wildcard fallback in registration order.
func (d *Dispatcher) Resolve(kind contracts.Kind, pattern string) (*registration, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if reg, ok := d.exact[kind][pattern]; ok {
		return reg, true
	}

	tokens := strings.Split(pattern, ".")
	for _, reg := range d.wild[kind] {
		if matchTokens(reg.tokens, tokens) {
			return reg, true
		}
	}
	return nil, false
}

// Len returns the number of registered handlers across both kinds.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, m := range d.exact {
		n += len(m)
	}
	return n
}

// matchTokens matches subject tokens against pattern tokens, where "*"
// matches exactly one token and ">" matches one or more trailing tokens.
func matchTokens(pattern, subject []string) bool {
	for i, pt := range pattern {
		if pt == ">" {
			return len(subject) > i
		}
		if i >= len(subject) {
			return false
		}
		if pt != "*" && pt != subject[i] {
			return false
		}
	}
	return len(pattern) == len(subject)
}

// Package mapping holds the notification routing configuration: which users
// hold a role on an event's context, and which view and templates each
// (event, role, name) combination is rendered with on each channel.
package mapping

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/notifyhub/torque-notifications/internal/domain"
)

var (
	ErrRegistryFrozen = errors.New("mapping registry is frozen")
	ErrInvalidMapping = errors.New("invalid dispatch mapping")
)

// DefaultView is used when a mapping names no view function.
const DefaultView = "default"

// SiteBCC as a bcc value stands for the configured site email.
const SiteBCC = "site"

// ChannelConfig is the rendering configuration of one channel.
type ChannelConfig struct {
	View   string
	Single string
	Batch  string
}

// Meta carries defaults patched into every dispatch of a mapping.
type Meta struct {
	BCCAddress string
	Subject    string
}

// DispatchMapping is the fully expanded rendering configuration for one
// (event, role, name) key.
type DispatchMapping struct {
	Channels map[domain.Channel]ChannelConfig
	Meta     Meta
}

// For returns the config of ch, if the mapping has one.
func (m *DispatchMapping) For(ch domain.Channel) (ChannelConfig, bool) {
	cfg, ok := m.Channels[ch]
	return cfg, ok
}

// Resolver looks up the mapping a notification is spawned with.
type Resolver interface {
	// Resolve returns nil when no mapping is registered for the key.
	Resolve(eventType, role, name string) *DispatchMapping
}

// Spec is the configuration a notify rule is declared with before
// augmentation. Either Template (shorthand), Single (with optional View and
// Batch) or Channels must be set.
type Spec struct {
	Template string
	View     string
	Single   string
	Batch    string
	Channels map[domain.Channel]ChannelConfig
}

// NotifyOptions are the optional parts of a notify rule.
type NotifyOptions struct {
	Name    string
	BCC     string
	Subject string
	Delay   time.Duration
}

// Rule subscribes a role on a context type to an event.
type Rule struct {
	ContextType string
	EventType   string
	Role        string
	Name        string
	Delay       time.Duration
}

type mappingKey struct {
	event string
	role  string
	name  string
}

type ruleKey struct {
	contextType string
	event       string
}

// Registry is built at start-up and then frozen. It is safe for concurrent
// reads once frozen.
type Registry struct {
	mu        sync.RWMutex
	frozen    bool
	siteEmail string

	roles     map[string]map[string]RoleBinding
	mappings  map[mappingKey]*DispatchMapping
	rules     map[ruleKey][]Rule
	resolvers map[string]RoleResolverFunc
}

func NewRegistry(siteEmail string) *Registry {
	return &Registry{
		siteEmail: siteEmail,
		roles:     make(map[string]map[string]RoleBinding),
		mappings:  make(map[mappingKey]*DispatchMapping),
		rules:     make(map[ruleKey][]Rule),
		resolvers: make(map[string]RoleResolverFunc),
	}
}

// AddRoleMapping binds roles to users for events on contextType. Bindings
// for roles already mapped are replaced.
func (r *Registry) AddRoleMapping(contextType string, bindings map[string]RoleBinding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	if contextType == "" {
		return fmt.Errorf("%w: empty context type", ErrInvalidMapping)
	}
	roles, ok := r.roles[contextType]
	if !ok {
		roles = make(map[string]RoleBinding)
		r.roles[contextType] = roles
	}
	for role, b := range bindings {
		if !b.valid() {
			return fmt.Errorf("%w: role %q has an empty binding", ErrInvalidMapping, role)
		}
		roles[role] = b
	}
	return nil
}

// AddNotify subscribes every role in roles to every event in events on
// contextType. Registering an existing key again replaces its mapping.
func (r *Registry) AddNotify(contextType string, events, roles []string, spec Spec, opts NotifyOptions) error {
	if contextType == "" || len(events) == 0 || len(roles) == 0 {
		return fmt.Errorf("%w: context type, events and roles are required", ErrInvalidMapping)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}

	m, err := r.augment(spec, opts)
	if err != nil {
		return err
	}

	for _, event := range events {
		for _, role := range roles {
			r.mappings[mappingKey{event: event, role: role, name: opts.Name}] = m
			r.addRule(Rule{
				ContextType: contextType,
				EventType:   event,
				Role:        role,
				Name:        opts.Name,
				Delay:       opts.Delay,
			})
		}
	}
	return nil
}

func (r *Registry) addRule(rule Rule) {
	k := ruleKey{contextType: rule.ContextType, event: rule.EventType}
	for i, existing := range r.rules[k] {
		if existing.Role == rule.Role && existing.Name == rule.Name {
			r.rules[k][i] = rule
			return
		}
	}
	r.rules[k] = append(r.rules[k], rule)
}

// RegisterResolver names a resolver function so that role mappings loaded
// from a file can refer to it.
func (r *Registry) RegisterResolver(name string, fn RoleResolverFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	if name == "" || fn == nil {
		return fmt.Errorf("%w: resolver needs a name and a function", ErrInvalidMapping)
	}
	r.resolvers[name] = fn
	return nil
}

func (r *Registry) resolver(name string) (RoleResolverFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.resolvers[name]
	return fn, ok
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Resolve(eventType, role, name string) *DispatchMapping {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mappings[mappingKey{event: eventType, role: role, name: name}]
}

// Rules lists the notify rules subscribed to eventType on contextType, in
// registration order.
func (r *Registry) Rules(contextType, eventType string) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rules := r.rules[ruleKey{contextType: contextType, event: eventType}]
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// augment expands spec into a full mapping. The default channel's config is
// copied to every supported channel that has none of its own.
func (r *Registry) augment(spec Spec, opts NotifyOptions) (*DispatchMapping, error) {
	channels := make(map[domain.Channel]ChannelConfig)

	switch {
	case len(spec.Channels) > 0:
		for ch, cfg := range spec.Channels {
			if !ch.IsValid() {
				return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidMapping, ch)
			}
			if cfg.Single == "" {
				return nil, fmt.Errorf("%w: channel %q has no template", ErrInvalidMapping, ch)
			}
			channels[ch] = withDefaults(cfg)
		}
	case spec.Template != "":
		channels[domain.DefaultChannel] = withDefaults(ChannelConfig{
			View:   spec.View,
			Single: spec.Template,
			Batch:  spec.Batch,
		})
	case spec.Single != "":
		channels[domain.DefaultChannel] = withDefaults(ChannelConfig{
			View:   spec.View,
			Single: spec.Single,
			Batch:  spec.Batch,
		})
	default:
		return nil, fmt.Errorf("%w: no template given", ErrInvalidMapping)
	}

	if def, ok := channels[domain.DefaultChannel]; ok {
		for _, ch := range domain.Channels {
			if _, exists := channels[ch]; !exists {
				channels[ch] = def
			}
		}
	}

	bcc := opts.BCC
	if bcc == SiteBCC {
		bcc = r.siteEmail
	}
	return &DispatchMapping{
		Channels: channels,
		Meta:     Meta{BCCAddress: bcc, Subject: opts.Subject},
	}, nil
}

func withDefaults(cfg ChannelConfig) ChannelConfig {
	if cfg.View == "" {
		cfg.View = DefaultView
	}
	if cfg.Batch == "" {
		cfg.Batch = cfg.Single
	}
	return cfg
}

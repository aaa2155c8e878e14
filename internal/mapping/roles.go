package mapping

import (
	"context"
	"errors"
	"fmt"

	"github.com/notifyhub/torque-notifications/internal/domain"
)

// RoleResolverFunc returns the ids of the users holding role for event.
type RoleResolverFunc func(ctx context.Context, event *domain.Event, role string) ([]string, error)

// UserDirectory looks users up. repository.Tx satisfies it.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
}

type bindingKind int

const (
	bindingAttribute bindingKind = iota + 1
	bindingUsername
	bindingResolver
	bindingNamedResolver
)

// RoleBinding says how to find the users holding a role. Build one with
// AttributeRef, UsernameRef or ResolverRef.
type RoleBinding struct {
	kind  bindingKind
	value string
	fn    RoleResolverFunc
}

// AttributeRef binds a role to the user whose id is stored in the event
// context attribute name.
func AttributeRef(name string) RoleBinding {
	return RoleBinding{kind: bindingAttribute, value: name}
}

// UsernameRef binds a role to one fixed user.
func UsernameRef(username string) RoleBinding {
	return RoleBinding{kind: bindingUsername, value: username}
}

// ResolverRef binds a role to a function.
func ResolverRef(fn RoleResolverFunc) RoleBinding {
	return RoleBinding{kind: bindingResolver, fn: fn}
}

// namedResolverRef refers to a function added with RegisterResolver. The
// lookup happens at resolution time so load order does not matter.
func namedResolverRef(name string) RoleBinding {
	return RoleBinding{kind: bindingNamedResolver, value: name}
}

func (b RoleBinding) valid() bool {
	switch b.kind {
	case bindingAttribute, bindingUsername, bindingNamedResolver:
		return b.value != ""
	case bindingResolver:
		return b.fn != nil
	}
	return false
}

// UsersFor returns the users holding role on the event's context. A role
// with no binding, or a binding that points at no existing user, yields
// no users.
func (r *Registry) UsersFor(ctx context.Context, event *domain.Event, role string, dir UserDirectory) ([]*domain.User, error) {
	r.mu.RLock()
	b, ok := r.roles[event.ContextType][role]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	switch b.kind {
	case bindingAttribute:
		id := event.Context[b.value]
		if id == "" {
			return nil, nil
		}
		return lookup(dir.GetUser(ctx, id))

	case bindingUsername:
		return lookup(dir.GetUserByUsername(ctx, b.value))

	case bindingResolver, bindingNamedResolver:
		fn := b.fn
		if b.kind == bindingNamedResolver {
			if fn, ok = r.resolver(b.value); !ok {
				return nil, fmt.Errorf("%w: unknown resolver %q", ErrInvalidMapping, b.value)
			}
		}
		ids, err := fn(ctx, event, role)
		if err != nil {
			return nil, fmt.Errorf("resolve role %q: %w", role, err)
		}
		var users []*domain.User
		for _, id := range ids {
			found, err := lookup(dir.GetUser(ctx, id))
			if err != nil {
				return nil, err
			}
			users = append(users, found...)
		}
		return users, nil
	}
	return nil, nil
}

func lookup(u *domain.User, err error) ([]*domain.User, error) {
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return []*domain.User{u}, nil
}

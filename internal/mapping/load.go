package mapping

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/notifyhub/torque-notifications/internal/domain"
)

// File is the on-disk layout of a mapping file. Roles and rules are lists
// rather than maps because viper folds map keys to lower case.
type File struct {
	Roles  []RoleEntry   `mapstructure:"roles"`
	Notify []NotifyEntry `mapstructure:"notify"`
}

// RoleEntry binds one role. Exactly one of Attribute, Username and Resolver
// must be set.
type RoleEntry struct {
	Context   string `mapstructure:"context"`
	Role      string `mapstructure:"role"`
	Attribute string `mapstructure:"attribute"`
	Username  string `mapstructure:"username"`
	Resolver  string `mapstructure:"resolver"`
}

type NotifyEntry struct {
	Context  string                        `mapstructure:"context"`
	Events   []string                      `mapstructure:"events"`
	Roles    []string                      `mapstructure:"roles"`
	Name     string                        `mapstructure:"name"`
	Template string                        `mapstructure:"template"`
	View     string                        `mapstructure:"view"`
	Single   string                        `mapstructure:"single"`
	Batch    string                        `mapstructure:"batch"`
	Channels map[string]ChannelConfigEntry `mapstructure:"channels"`
	BCC      string                        `mapstructure:"bcc"`
	Subject  string                        `mapstructure:"subject"`
	Delay    time.Duration                 `mapstructure:"delay"`
}

type ChannelConfigEntry struct {
	View   string `mapstructure:"view"`
	Single string `mapstructure:"single"`
	Batch  string `mapstructure:"batch"`
}

// Load reads the YAML mapping file at path and returns a frozen registry.
// resolvers are registered before the file is applied so that role entries
// can refer to them by name.
func Load(path, siteEmail string, resolvers map[string]RoleResolverFunc) (*Registry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading mapping %s: %w", path, err)
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("parsing mapping %s: %w", path, err)
	}

	reg := NewRegistry(siteEmail)
	for name, fn := range resolvers {
		if err := reg.RegisterResolver(name, fn); err != nil {
			return nil, err
		}
	}
	if err := f.apply(reg); err != nil {
		return nil, fmt.Errorf("mapping %s: %w", path, err)
	}
	reg.Freeze()
	return reg, nil
}

func (f *File) apply(reg *Registry) error {
	for i, e := range f.Roles {
		b, err := e.binding()
		if err != nil {
			return fmt.Errorf("roles[%d]: %w", i, err)
		}
		if b.kind == bindingNamedResolver {
			if _, ok := reg.resolver(b.value); !ok {
				return fmt.Errorf("roles[%d]: %w: unknown resolver %q", i, ErrInvalidMapping, b.value)
			}
		}
		if err := reg.AddRoleMapping(e.Context, map[string]RoleBinding{e.Role: b}); err != nil {
			return fmt.Errorf("roles[%d]: %w", i, err)
		}
	}

	seen := make(map[mappingKey]int)
	for i, e := range f.Notify {
		for _, event := range e.Events {
			for _, role := range e.Roles {
				k := mappingKey{event: event, role: role, name: e.Name}
				if prev, dup := seen[k]; dup {
					return fmt.Errorf("notify[%d]: %w: %s/%s/%q already declared by notify[%d]",
						i, ErrInvalidMapping, event, role, e.Name, prev)
				}
				seen[k] = i
			}
		}

		spec := Spec{
			Template: e.Template,
			View:     e.View,
			Single:   e.Single,
			Batch:    e.Batch,
		}
		if len(e.Channels) > 0 {
			spec.Channels = make(map[domain.Channel]ChannelConfig, len(e.Channels))
			for ch, c := range e.Channels {
				spec.Channels[domain.Channel(ch)] = ChannelConfig(c)
			}
		}
		opts := NotifyOptions{Name: e.Name, BCC: e.BCC, Subject: e.Subject, Delay: e.Delay}
		if err := reg.AddNotify(e.Context, e.Events, e.Roles, spec, opts); err != nil {
			return fmt.Errorf("notify[%d]: %w", i, err)
		}
	}
	return nil
}

func (e RoleEntry) binding() (RoleBinding, error) {
	if e.Context == "" || e.Role == "" {
		return RoleBinding{}, fmt.Errorf("%w: context and role are required", ErrInvalidMapping)
	}
	var set []RoleBinding
	if e.Attribute != "" {
		set = append(set, AttributeRef(e.Attribute))
	}
	if e.Username != "" {
		set = append(set, UsernameRef(e.Username))
	}
	if e.Resolver != "" {
		set = append(set, namedResolverRef(e.Resolver))
	}
	if len(set) != 1 {
		return RoleBinding{}, fmt.Errorf("%w: role %q needs exactly one of attribute, username, resolver",
			ErrInvalidMapping, e.Role)
	}
	return set[0], nil
}

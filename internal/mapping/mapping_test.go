package mapping_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/notifyhub/torque-notifications/internal/domain"
	"github.com/notifyhub/torque-notifications/internal/mapping"
)

func TestRegistry_ShorthandExpandsToAllChannels(t *testing.T) {
	reg := mapping.NewRegistry("site@example.com")
	err := reg.AddNotify("job", []string{"paid"}, []string{"customer"},
		mapping.Spec{Template: "job/paid.tmpl"},
		mapping.NotifyOptions{BCC: mapping.SiteBCC, Subject: "Paid"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m := reg.Resolve("paid", "customer", "")
	if m == nil {
		t.Fatal("expected a mapping")
	}
	for _, ch := range domain.Channels {
		cfg, ok := m.For(ch)
		if !ok {
			t.Fatalf("channel %s missing", ch)
		}
		if cfg.View != mapping.DefaultView || cfg.Single != "job/paid.tmpl" || cfg.Batch != "job/paid.tmpl" {
			t.Fatalf("channel %s: unexpected config %+v", ch, cfg)
		}
	}
	if m.Meta.BCCAddress != "site@example.com" || m.Meta.Subject != "Paid" {
		t.Fatalf("unexpected meta %+v", m.Meta)
	}
}

func TestRegistry_ExplicitChannelIsNotOverwritten(t *testing.T) {
	reg := mapping.NewRegistry("")
	err := reg.AddNotify("job", []string{"paid"}, []string{"customer"}, mapping.Spec{
		Channels: map[domain.Channel]mapping.ChannelConfig{
			domain.ChannelEmail: {View: "job", Single: "email/paid.tmpl"},
			domain.ChannelSMS:   {View: "job", Single: "sms/paid.tmpl"},
		},
	}, mapping.NotifyOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg, _ := reg.Resolve("paid", "customer", "").For(domain.ChannelSMS)
	if cfg.Single != "sms/paid.tmpl" {
		t.Fatalf("sms config was overwritten: %+v", cfg)
	}
}

func TestRegistry_NameDiscriminates(t *testing.T) {
	reg := mapping.NewRegistry("")
	_ = reg.AddNotify("job", []string{"paid"}, []string{"customer"}, mapping.Spec{Template: "a"}, mapping.NotifyOptions{})
	_ = reg.AddNotify("job", []string{"paid"}, []string{"customer"}, mapping.Spec{Template: "b"}, mapping.NotifyOptions{Name: "receipt"})

	if cfg, _ := reg.Resolve("paid", "customer", "").For(domain.ChannelEmail); cfg.Single != "a" {
		t.Fatalf("unnamed mapping: got %q", cfg.Single)
	}
	if cfg, _ := reg.Resolve("paid", "customer", "receipt").For(domain.ChannelEmail); cfg.Single != "b" {
		t.Fatalf("named mapping: got %q", cfg.Single)
	}
	if reg.Resolve("paid", "admin", "") != nil {
		t.Fatal("unregistered key must resolve to nil")
	}
	if got := len(reg.Rules("job", "paid")); got != 2 {
		t.Fatalf("expected 2 rules, got %d", got)
	}
}

func TestRegistry_ReRegisterReplaces(t *testing.T) {
	reg := mapping.NewRegistry("")
	_ = reg.AddNotify("job", []string{"paid"}, []string{"customer"}, mapping.Spec{Template: "old"}, mapping.NotifyOptions{})
	_ = reg.AddNotify("job", []string{"paid"}, []string{"customer"}, mapping.Spec{Template: "new"}, mapping.NotifyOptions{Delay: time.Minute})

	if cfg, _ := reg.Resolve("paid", "customer", "").For(domain.ChannelEmail); cfg.Single != "new" {
		t.Fatalf("expected replaced mapping, got %q", cfg.Single)
	}
	rules := reg.Rules("job", "paid")
	if len(rules) != 1 || rules[0].Delay != time.Minute {
		t.Fatalf("expected one replaced rule, got %+v", rules)
	}
}

func TestRegistry_RejectsEmptySpec(t *testing.T) {
	reg := mapping.NewRegistry("")
	err := reg.AddNotify("job", []string{"paid"}, []string{"customer"}, mapping.Spec{}, mapping.NotifyOptions{})
	if !errors.Is(err, mapping.ErrInvalidMapping) {
		t.Fatalf("expected ErrInvalidMapping, got %v", err)
	}
}

func TestRegistry_Freeze(t *testing.T) {
	reg := mapping.NewRegistry("")
	reg.Freeze()

	if err := reg.AddNotify("job", []string{"paid"}, []string{"customer"}, mapping.Spec{Template: "a"}, mapping.NotifyOptions{}); err != mapping.ErrRegistryFrozen {
		t.Fatalf("AddNotify: expected ErrRegistryFrozen, got %v", err)
	}
	if err := reg.AddRoleMapping("job", map[string]mapping.RoleBinding{"customer": mapping.AttributeRef("customer_id")}); err != mapping.ErrRegistryFrozen {
		t.Fatalf("AddRoleMapping: expected ErrRegistryFrozen, got %v", err)
	}
	if err := reg.RegisterResolver("x", func(context.Context, *domain.Event, string) ([]string, error) { return nil, nil }); err != mapping.ErrRegistryFrozen {
		t.Fatalf("RegisterResolver: expected ErrRegistryFrozen, got %v", err)
	}
}

// fakeDirectory is a map-backed UserDirectory.
type fakeDirectory map[string]*domain.User

func (d fakeDirectory) GetUser(_ context.Context, id string) (*domain.User, error) {
	if u, ok := d[id]; ok {
		return u, nil
	}
	return nil, domain.ErrNotFound
}

func (d fakeDirectory) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	for _, u := range d {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func TestRegistry_UsersFor(t *testing.T) {
	dir := fakeDirectory{
		"u1": {ID: "u1", Username: "alice"},
		"u2": {ID: "u2", Username: "bob"},
		"u3": {ID: "u3", Username: "carol"},
	}
	reg := mapping.NewRegistry("")
	err := reg.AddRoleMapping("job", map[string]mapping.RoleBinding{
		"customer": mapping.AttributeRef("customer_id"),
		"admin":    mapping.UsernameRef("bob"),
		"watchers": mapping.ResolverRef(func(_ context.Context, e *domain.Event, _ string) ([]string, error) {
			return []string{"u1", "u3", "missing"}, nil
		}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reg.Freeze()

	event := &domain.Event{ContextType: "job", Type: "paid", Context: map[string]string{"customer_id": "u1"}}
	ctx := context.Background()

	cases := map[string][]string{
		"customer": {"u1"},
		"admin":    {"u2"},
		"watchers": {"u1", "u3"},
		"unbound":  nil,
	}
	for role, want := range cases {
		users, err := reg.UsersFor(ctx, event, role, dir)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", role, err)
		}
		if len(users) != len(want) {
			t.Fatalf("%s: expected %d users, got %d", role, len(want), len(users))
		}
		for i, u := range users {
			if u.ID != want[i] {
				t.Fatalf("%s: expected %s at %d, got %s", role, want[i], i, u.ID)
			}
		}
	}

	noAttr := &domain.Event{ContextType: "job", Type: "paid"}
	if users, _ := reg.UsersFor(ctx, noAttr, "customer", dir); len(users) != 0 {
		t.Fatalf("missing attribute should yield no users, got %d", len(users))
	}
}

const mappingYAML = `
roles:
  - context: job
    role: customer
    attribute: customer_id
  - context: job
    role: admin
    username: bob
  - context: job
    role: watchers
    resolver: watchers
notify:
  - context: job
    events: [paid, refunded]
    roles: [customer]
    template: job/paid.tmpl
    bcc: site
    delay: 10m
  - context: job
    events: [paid]
    roles: [admin]
    channels:
      email:
        view: job
        single: email/admin.tmpl
      sms:
        single: sms/admin.tmpl
    subject: Job paid
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notifications.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write mapping: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	resolvers := map[string]mapping.RoleResolverFunc{
		"watchers": func(context.Context, *domain.Event, string) ([]string, error) { return nil, nil },
	}
	reg, err := mapping.Load(writeFile(t, mappingYAML), "site@example.com", resolvers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rules := reg.Rules("job", "paid")
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules for job/paid, got %d", len(rules))
	}
	if rules[0].Role != "customer" || rules[0].Delay != 10*time.Minute {
		t.Fatalf("unexpected first rule %+v", rules[0])
	}

	m := reg.Resolve("refunded", "customer", "")
	if m == nil || m.Meta.BCCAddress != "site@example.com" {
		t.Fatalf("expected refunded mapping with site bcc, got %+v", m)
	}

	admin := reg.Resolve("paid", "admin", "")
	if cfg, _ := admin.For(domain.ChannelSMS); cfg.Single != "sms/admin.tmpl" || cfg.View != mapping.DefaultView {
		t.Fatalf("unexpected sms config %+v", cfg)
	}

	if err := reg.AddNotify("job", []string{"x"}, []string{"y"}, mapping.Spec{Template: "t"}, mapping.NotifyOptions{}); err != mapping.ErrRegistryFrozen {
		t.Fatalf("loaded registry should be frozen, got %v", err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown resolver": `
roles:
  - context: job
    role: watchers
    resolver: nope
`,
		"two bindings": `
roles:
  - context: job
    role: customer
    attribute: customer_id
    username: bob
`,
		"duplicate rule": `
notify:
  - context: job
    events: [paid]
    roles: [customer]
    template: a
  - context: job
    events: [paid]
    roles: [customer]
    template: b
`,
		"no template": `
notify:
  - context: job
    events: [paid]
    roles: [customer]
`,
	}
	for name, body := range cases {
		if _, err := mapping.Load(writeFile(t, body), "", nil); !errors.Is(err, mapping.ErrInvalidMapping) {
			t.Fatalf("%s: expected ErrInvalidMapping, got %v", name, err)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := mapping.Load(filepath.Join(t.TempDir(), "absent.yaml"), "", nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

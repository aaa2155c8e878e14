package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/torque-notifications/internal/domain"
	"github.com/notifyhub/torque-notifications/internal/mapping"
	"github.com/notifyhub/torque-notifications/internal/repository"
	"github.com/notifyhub/torque-notifications/internal/sender"
	"github.com/notifyhub/torque-notifications/internal/service"
	"github.com/notifyhub/torque-notifications/internal/worker"
)

// 09:00 on a Friday.
var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// recordingDispatcher keeps every task it is given.
type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []domain.DeliveryTask
	err   error
}

func (d *recordingDispatcher) Enqueue(_ context.Context, task domain.DeliveryTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, task)
	return nil
}

func (d *recordingDispatcher) Tasks() []domain.DeliveryTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.DeliveryTask(nil), d.tasks...)
}

type okSender struct{}

func (okSender) Channel() domain.Channel { return domain.ChannelEmail }

func (okSender) Send(_ context.Context, _ sender.TemplateSpec, data sender.Data) (*sender.SentMeta, error) {
	return &sender.SentMeta{Channel: domain.ChannelEmail, To: data.String("to_address")}, nil
}

type fixture struct {
	store         *repository.MockStore
	clock         *clock
	notifications *service.NotificationService
	deliverer     *service.Deliverer
	dispatcher    *recordingDispatcher
	scanner       *worker.Scanner
	event         *domain.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMockStore()
	store.AddUser(&domain.User{ID: "u1", Username: "alice", Email: "alice@example.com"})
	store.AddUser(&domain.User{ID: "u2", Username: "bob", Email: "bob@example.com"})

	reg := mapping.NewRegistry("site@example.com")
	if err := reg.AddNotify("job", []string{"paid"}, []string{"customer"},
		mapping.Spec{Template: "job/paid.tmpl"}, mapping.NotifyOptions{}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	reg.Freeze()

	c := &clock{now: t0}
	prefs := service.NewPreferenceService(store).WithClock(c.Now)
	spawner := service.NewSpawner(reg, prefs, zap.NewNop()).WithClock(c.Now)
	notifications := service.NewNotificationService(store, prefs, spawner, zap.NewNop()).WithClock(c.Now)
	deliverer := service.NewDeliverer(store, sender.NewRegistry(okSender{}), sender.DefaultViews(),
		"site@example.com", service.DeliveryHooks{}, zap.NewNop()).WithClock(c.Now)

	cadence := domain.Cadence{
		domain.FrequencyImmediately: 0,
		domain.FrequencyHourly:      time.Hour,
		domain.FrequencyDaily:       24 * time.Hour,
		domain.FrequencyWeekly:      7 * 24 * time.Hour,
	}
	dispatcher := &recordingDispatcher{}
	scanner := worker.NewScanner(store, spawner, prefs, dispatcher, cadence, 48*time.Hour,
		worker.ScanHooks{}, zap.NewNop()).WithClock(c.Now)

	event := &domain.Event{ID: "e1", ContextType: "job", Type: "paid", Target: "J-1", CreatedAt: t0}
	if err := store.WithTx(context.Background(), func(tx repository.Tx) error {
		return tx.CreateEvent(context.Background(), event)
	}); err != nil {
		t.Fatalf("create event: %v", err)
	}

	return &fixture{
		store: store, clock: c, notifications: notifications, deliverer: deliverer,
		dispatcher: dispatcher, scanner: scanner, event: event,
	}
}

func (f *fixture) prefs(userID string, freq domain.Frequency, ch domain.Channel, created time.Time) {
	f.store.SetPreferences(&domain.Preferences{
		UserID: userID, Channel: ch, Frequency: freq,
		Token: "aaaaaaaaaaaaaaaaaaaa", CreatedAt: created, UpdatedAt: created,
	})
}

func (f *fixture) notify(t *testing.T, userID string, at time.Time) *domain.Notification {
	t.Helper()
	f.clock.Set(at)
	n, _, err := f.notifications.Notify(context.Background(), &domain.User{ID: userID}, f.event, "customer", "", 0)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	return n
}

func (f *fixture) scan(t *testing.T, at time.Time) worker.ScanResult {
	t.Helper()
	f.clock.Set(at)
	res, err := f.scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	return res
}

func (f *fixture) deliverAll(t *testing.T, at time.Time) {
	t.Helper()
	f.clock.Set(at)
	for _, task := range f.dispatcher.Tasks() {
		if _, err := f.deliverer.Deliver(context.Background(), task.UserID, task.LatestHash); err != nil {
			t.Fatalf("deliver: %v", err)
		}
	}
}

func TestScan_DailyFirstNotification(t *testing.T) {
	f := newFixture(t)
	f.prefs("u1", domain.FrequencyDaily, domain.ChannelEmail, t0.Add(-24*time.Hour))
	f.notify(t, "u1", t0)

	if n := len(f.store.Dispatches()); n != 0 {
		t.Fatalf("daily users must not spawn inline, got %d dispatches", n)
	}

	res := f.scan(t, t0.Add(time.Minute))
	if res.Spawned != 1 || res.Tasks != 1 || res.Enqueued != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	task := f.dispatcher.Tasks()[0]
	if task.UserID != "u1" || task.LatestHash != f.store.Preferences("u1").Token {
		t.Fatalf("task must carry the new token, got %+v", task)
	}
	if task.LatestHash == "aaaaaaaaaaaaaaaaaaaa" {
		t.Fatal("token was not bumped")
	}
}

func TestScan_DailyWaitsForCadence(t *testing.T) {
	f := newFixture(t)
	f.prefs("u1", domain.FrequencyDaily, domain.ChannelEmail, t0.Add(-24*time.Hour))
	f.notify(t, "u1", t0)
	f.scan(t, t0.Add(time.Minute))
	f.deliverAll(t, t0.Add(time.Minute))

	// Sent at 09:01; a notification at 10:00 waits until 09:01 tomorrow.
	f.notify(t, "u1", t0.Add(time.Hour))
	if res := f.scan(t, t0.Add(2*time.Hour)); res.Spawned != 0 || res.Tasks != 0 {
		t.Fatalf("cadence not elapsed, got %+v", res)
	}
	if res := f.scan(t, t0.Add(24*time.Hour+2*time.Minute)); res.Spawned != 1 || res.Tasks != 1 {
		t.Fatalf("expected the batch next day, got %+v", res)
	}
}

func TestScan_Hourly(t *testing.T) {
	f := newFixture(t)
	f.prefs("u1", domain.FrequencyHourly, domain.ChannelEmail, t0.Add(-2*time.Hour))
	f.notify(t, "u1", t0)
	if res := f.scan(t, t0.Add(time.Minute)); res.Spawned != 1 {
		t.Fatalf("expected spawn, got %+v", res)
	}
	f.deliverAll(t, t0.Add(time.Minute))

	f.notify(t, "u1", t0.Add(10*time.Minute))
	f.notify(t, "u1", t0.Add(20*time.Minute))
	if res := f.scan(t, t0.Add(30*time.Minute)); res.Spawned != 0 {
		t.Fatalf("cadence not elapsed, got %+v", res)
	}
	if res := f.scan(t, t0.Add(62*time.Minute)); res.Spawned != 2 || res.Tasks != 1 {
		t.Fatalf("expected both notifications in one task, got %+v", res)
	}
}

func TestScan_BacklogCutoff(t *testing.T) {
	f := newFixture(t)
	f.prefs("u1", domain.FrequencyDaily, domain.ChannelEmail, t0.Add(-10*24*time.Hour))
	old := f.notify(t, "u1", t0.Add(-3*24*time.Hour))
	recent := f.notify(t, "u1", t0.Add(-24*time.Hour))

	res := f.scan(t, t0)
	if res.Spawned != 1 {
		t.Fatalf("only the notification inside the cutoff may spawn, got %+v", res)
	}
	for _, n := range f.store.Notifications() {
		switch n.ID {
		case old.ID:
			if n.Spawned != nil {
				t.Fatal("notification past the cutoff was spawned")
			}
		case recent.ID:
			if n.Spawned == nil {
				t.Fatal("recent notification was not spawned")
			}
		}
	}
}

func TestScan_NeverIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.prefs("u1", domain.FrequencyNever, domain.ChannelEmail, t0.Add(-24*time.Hour))
	f.notify(t, "u1", t0)

	res := f.scan(t, t0.Add(48*time.Hour-time.Minute))
	if res.Spawned != 0 || res.Tasks != 0 {
		t.Fatalf("never must not spawn or deliver, got %+v", res)
	}
}

func TestScan_OneTaskPerUser(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.notify(t, "u1", t0.Add(time.Duration(i)*time.Second))
	}
	f.notify(t, "u2", t0)
	if n := len(f.store.Dispatches()); n != 4 {
		t.Fatalf("immediate users spawn inline, expected 4 dispatches, got %d", n)
	}

	res := f.scan(t, t0.Add(time.Minute))
	if res.Spawned != 0 || res.Tasks != 2 {
		t.Fatalf("expected two tasks and no new spawns, got %+v", res)
	}
	seen := map[string]string{}
	for _, task := range f.dispatcher.Tasks() {
		if _, dup := seen[task.UserID]; dup {
			t.Fatalf("duplicate task for %s", task.UserID)
		}
		seen[task.UserID] = task.LatestHash
	}
	for id, hash := range seen {
		if f.store.Preferences(id).Token != hash {
			t.Fatalf("task for %s does not carry the current token", id)
		}
	}
}

func TestScan_OlderTaskTurnsStale(t *testing.T) {
	f := newFixture(t)
	f.notify(t, "u1", t0)
	f.scan(t, t0.Add(time.Minute))
	f.scan(t, t0.Add(2*time.Minute))

	tasks := f.dispatcher.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("expected a task per scan, got %d", len(tasks))
	}
	res, err := f.deliverer.Deliver(context.Background(), "u1", tasks[0].LatestHash)
	if err != nil || !res.Stale {
		t.Fatalf("first task must be stale, got %+v, %v", res, err)
	}
	res, err = f.deliverer.Deliver(context.Background(), "u1", tasks[1].LatestHash)
	if err != nil || len(res.Dispatched) != 1 {
		t.Fatalf("latest task must deliver, got %+v, %v", res, err)
	}
}

func TestScan_EnqueueFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.notify(t, "u1", t0)
	f.dispatcher.err = errors.New("engine down")

	res := f.scan(t, t0.Add(time.Minute))
	if res.Tasks != 1 || res.Enqueued != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestScan_UserWithoutAddressDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	// alice has no phone number.
	f.prefs("u1", domain.FrequencyDaily, domain.ChannelSMS, t0.Add(-24*time.Hour))
	stuck := f.notify(t, "u1", t0)
	f.notify(t, "u2", t0)

	for _, at := range []time.Duration{time.Minute, 25 * time.Hour, 47 * time.Hour} {
		before := len(f.dispatcher.Tasks())
		res := f.scan(t, t0.Add(at))
		if res.Spawned != 0 {
			t.Fatalf("scan at +%s: nothing can be spawned for u1, got %+v", at, res)
		}
		tasks := f.dispatcher.Tasks()[before:]
		if len(tasks) != 1 || tasks[0].UserID != "u2" {
			t.Fatalf("scan at +%s: u2 must still get its task, got %+v", at, tasks)
		}
	}
	for _, n := range f.store.Notifications() {
		if n.ID == stuck.ID && n.Spawned != nil {
			t.Fatal("notification without an address was spawned")
		}
	}
	if f.store.Preferences("u1").Token != "aaaaaaaaaaaaaaaaaaaa" {
		t.Fatal("u1 has nothing to deliver and must keep its token")
	}
}

func TestPoller_RunScansUntilCancelled(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	scans := 0
	hooks := worker.ScanHooks{OnScan: func(int, int, time.Duration) {
		mu.Lock()
		scans++
		mu.Unlock()
	}}
	scanner := worker.NewScanner(f.store, nil, nil, f.dispatcher, domain.Cadence{}, time.Hour, hooks, zap.NewNop())
	poller := worker.NewPoller(scanner, 5*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := scans
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected repeated scans, got %d", n)
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancellation")
	}
}

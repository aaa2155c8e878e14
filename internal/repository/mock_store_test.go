package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/notifyhub/torque-notifications/internal/domain"
	"github.com/notifyhub/torque-notifications/internal/repository"
)

func TestMockStore_RollbackRestoresSnapshot(t *testing.T) {
	m := repository.NewMockStore()
	now := time.Now()
	m.SetPreferences(&domain.Preferences{UserID: "u1", Channel: domain.ChannelEmail, Frequency: domain.FrequencyDaily, Token: "old"})

	boom := errors.New("boom")
	err := m.WithTx(context.Background(), func(tx repository.Tx) error {
		_ = tx.CreateNotification(context.Background(), &domain.Notification{ID: "n1", UserID: "u1", Due: now, CreatedAt: now})
		_ = tx.SetToken(context.Background(), "u1", "new")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(m.Notifications()) != 0 {
		t.Fatal("notification insert should have been rolled back")
	}
	if p := m.Preferences("u1"); p.Token != "old" {
		t.Fatalf("token should have been rolled back, got %s", p.Token)
	}
}

package store

import (
	"context"
	"testing"

	"github.com/psds-microservice/desk-sync/internal/model"
)

// Без сконфигурированного db клиент обязан быть тихим no-op: вызывающие не
// проверяют Enabled перед каждой операцией.
func TestNilDBIsSilentNoop(t *testing.T) {
	c := NewClient(nil)
	if c.Enabled() {
		t.Fatalf("nil db must report disabled")
	}
	ctx := context.Background()
	if err := c.UpsertTicket(ctx, &model.Ticket{ID: "123456"}); err != nil {
		t.Fatalf("upsert ticket: %v", err)
	}
	if err := c.UpsertMessage(ctx, &model.Message{ID: "1"}); err != nil {
		t.Fatalf("upsert message: %v", err)
	}
	tickets, err := c.ListTickets(ctx)
	if err != nil || tickets != nil {
		t.Fatalf("list tickets: %v, %v", tickets, err)
	}
	msgs, err := c.ListMessages(ctx, "123456")
	if err != nil || msgs != nil {
		t.Fatalf("list messages: %v, %v", msgs, err)
	}
}

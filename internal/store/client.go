// Package store — клиент внешнего персистентного хранилища (Postgres).
// Хранилище best-effort: источник истины в рамках сессии — локальная память,
// store лишь догоняет её.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/psds-microservice/desk-sync/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Client выполняет upsert/запросы тикетов и сообщений. Если db == nil
// (store не сконфигурирован), все операции — тихие no-op / пустые выборки.
type Client struct {
	db *gorm.DB
}

func NewClient(db *gorm.DB) *Client {
	return &Client{db: db}
}

func (c *Client) Enabled() bool {
	return c != nil && c.db != nil
}

// UpsertTicket вставляет или целиком обновляет запись тикета по id.
func (c *Client) UpsertTicket(ctx context.Context, t *model.Ticket) error {
	if !c.Enabled() {
		return nil
	}
	err := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(t).Error
	if err != nil {
		return fmt.Errorf("store upsert ticket %s: %w", t.ID, err)
	}
	return nil
}

// UpsertMessage вставляет сообщение; повторный upsert того же id безвреден
// (сообщения после создания не мутируют).
func (c *Client) UpsertMessage(ctx context.Context, m *model.Message) error {
	if !c.Enabled() {
		return nil
	}
	err := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(m).Error
	if err != nil {
		return fmt.Errorf("store upsert message %s: %w", m.ID, err)
	}
	return nil
}

// ListTickets возвращает снапшот тикетов, упорядоченный по updated_at DESC.
// Отсутствие записей — не ошибка.
func (c *Client) ListTickets(ctx context.Context) ([]model.Ticket, error) {
	if !c.Enabled() {
		return nil, nil
	}
	var items []model.Ticket
	err := c.db.WithContext(ctx).Order("updated_at DESC").Find(&items).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("store list tickets: %w", err)
	}
	return items, nil
}

// ListMessages возвращает сообщения тикета по времени ASC.
func (c *Client) ListMessages(ctx context.Context, ticketID string) ([]model.Message, error) {
	if !c.Enabled() {
		return nil, nil
	}
	var items []model.Message
	err := c.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("timestamp ASC").
		Find(&items).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("store list messages: %w", err)
	}
	return items, nil
}

// Package reconcile — ядро синхронизации: единственный владелец in-memory
// коллекций тикетов и сообщений. Все мутации (из sync-петли и из локальных
// обработчиков) сериализуются через Desk; два fold'а никогда не видят одно
// "текущее" состояние одновременно.
package reconcile

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/psds-microservice/desk-sync/internal/kafka"
	"github.com/psds-microservice/desk-sync/internal/model"
	"github.com/psds-microservice/desk-sync/internal/snapshot"
)

// RelaySender — исходящая поверхность relay, нужная обработчикам
// (D: зависимость от абстракций, подменяется в тестах).
type RelaySender interface {
	Enabled() bool
	CreateTopic(ctx context.Context, name string) (int64, error)
	SendMessage(ctx context.Context, topicID int64, text, senderName string) error
	SendAdminReply(ctx context.Context, topicID int64, text string) error
	SendRaw(ctx context.Context, topicID int64, text string) error
	SendMedia(ctx context.Context, topicID int64, filename string, r io.Reader, caption, senderName string) error
}

// TicketStore — записывающая поверхность store. Реализация обязана быть
// no-op, когда store не сконфигурирован.
type TicketStore interface {
	Enabled() bool
	UpsertTicket(ctx context.Context, t *model.Ticket) error
	UpsertMessage(ctx context.Context, m *model.Message) error
}

// Broadcaster — лента живых событий для дашбордов.
type Broadcaster interface {
	Publish(event string, payload any)
}

// Deps — зависимости Desk. Любое поле может быть nil/выключенным: desk обязан
// работать в local-only режиме.
type Deps struct {
	Relay    RelaySender
	Store    TicketStore
	Producer kafka.DeskEventProducer
	Hub      Broadcaster

	// Viewer — какая сторона запущена (admin обнаруживает тикеты, customer —
	// нет).
	Viewer model.SenderType

	// SnapshotPath — путь локального снапшота; пустой отключает его.
	SnapshotPath string

	// DefaultPost — шаблон первого объявления в новых клиентских тикетах.
	DefaultPost *model.TicketPost
}

const (
	jobQueueSize = 256
	jobTimeout   = 5 * time.Second
)

// Desk — связанная пара коллекций плюс очередь отложенных сетевых эффектов.
// Мутации держат mu; сетевые вызовы из-под mu не выполняются никогда — они
// складываются в jobs и исполняются одним worker'ом в порядке постановки, что
// сохраняет порядок записей store по каждому тикету.
type Desk struct {
	deps Deps

	mu       sync.Mutex
	tickets  []model.Ticket // новые в начале
	messages []model.Message
	msgIndex map[string]bool // ключ дедупликации: id сообщения
	activeID string

	jobs chan func(context.Context)
}

func NewDesk(deps Deps) *Desk {
	return &Desk{
		deps:     deps,
		msgIndex: make(map[string]bool),
		jobs:     make(chan func(context.Context), jobQueueSize),
	}
}

// RunWorker исполняет отложенные эффекты до отмены ctx. Ровно одна горутина:
// порядок постановки == порядок исполнения.
func (d *Desk) RunWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.jobs:
			jobCtx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			job(jobCtx)
			cancel()
		}
	}
}

// enqueue ставит эффект в очередь, никогда не блокируя вызывающего. Потерянный
// при переполнении эффект — только запись в лог: локальное состояние уже
// изменено и остаётся источником истины.
func (d *Desk) enqueue(job func(context.Context)) {
	select {
	case d.jobs <- job:
	default:
		log.Printf("reconcile: effect queue full, dropping effect")
	}
}

func (d *Desk) publish(event string, payload any) {
	if d.deps.Hub != nil {
		d.deps.Hub.Publish(event, payload)
	}
}

func (d *Desk) persistTicket(t model.Ticket) {
	d.enqueue(func(ctx context.Context) {
		if d.deps.Store != nil {
			if err := d.deps.Store.UpsertTicket(ctx, &t); err != nil {
				log.Printf("reconcile: persist ticket %s: %v", t.ID, err)
			}
		}
	})
}

func (d *Desk) persistMessage(m model.Message) {
	d.enqueue(func(ctx context.Context) {
		if d.deps.Store != nil {
			if err := d.deps.Store.UpsertMessage(ctx, &m); err != nil {
				log.Printf("reconcile: persist message %s: %v", m.ID, err)
			}
		}
	})
}

func (d *Desk) produceEvent(event string, payload map[string]interface{}) {
	if d.deps.Producer == nil {
		return
	}
	d.enqueue(func(ctx context.Context) {
		d.deps.Producer.ProduceDeskEvent(ctx, event, payload)
	})
}

func ticketEventPayload(t *model.Ticket) map[string]interface{} {
	return map[string]interface{}{
		"ticket_id":     t.ID,
		"customer_name": t.CustomerName,
		"subject":       t.Subject,
		"status":        string(t.Status),
		"priority":      t.Priority,
		"topic_id":      t.TopicID,
	}
}

func messageEventPayload(m *model.Message) map[string]interface{} {
	return map[string]interface{}{
		"ticket_id":  m.TicketID,
		"message_id": m.ID,
		"sender":     string(m.Sender),
		"text":       m.Text,
	}
}

// scheduleSnapshot ставит сохранение снапшота в общую очередь. Снимок состояния
// берётся в момент исполнения, так что серия мутаций схлопывается в актуальную
// запись.
func (d *Desk) scheduleSnapshot() {
	if d.deps.SnapshotPath == "" {
		return
	}
	d.enqueue(func(ctx context.Context) {
		if err := d.SaveSnapshot(); err != nil {
			log.Printf("reconcile: snapshot: %v", err)
		}
	})
}

// SaveSnapshot синхронно пишет снапшот текущего состояния. Вызывается worker'ом
// и при shutdown.
func (d *Desk) SaveSnapshot() error {
	if d.deps.SnapshotPath == "" {
		return nil
	}
	d.mu.Lock()
	f := &snapshot.File{
		Tickets:  append([]model.Ticket(nil), d.tickets...),
		Messages: append([]model.Message(nil), d.messages...),
	}
	d.mu.Unlock()
	return snapshot.Save(d.deps.SnapshotPath, f)
}

// LoadSnapshot замещает коллекции содержимым снапшота. Только при старте, до
// запуска sync-петли.
func (d *Desk) LoadSnapshot(f *snapshot.File) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tickets = append([]model.Ticket(nil), f.Tickets...)
	d.messages = append([]model.Message(nil), f.Messages...)
	d.msgIndex = make(map[string]bool, len(d.messages))
	for i := range d.messages {
		d.msgIndex[d.messages[i].ID] = true
	}
}

// --- поиск (вызывать только под mu) ---

func (d *Desk) findByID(id string) *model.Ticket {
	for i := range d.tickets {
		if d.tickets[i].ID == id {
			return &d.tickets[i]
		}
	}
	return nil
}

func (d *Desk) findByTopic(topicID int64) *model.Ticket {
	if topicID == 0 {
		return nil
	}
	for i := range d.tickets {
		if d.tickets[i].TopicID == topicID {
			return &d.tickets[i]
		}
	}
	return nil
}

// --- read-доступ (копии, безопасно отдавать наружу) ---

// Tickets возвращает копию списка тикетов (новые первыми).
func (d *Desk) Tickets() []model.Ticket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.Ticket(nil), d.tickets...)
}

// Ticket возвращает копию тикета по id.
func (d *Desk) Ticket(id string) (model.Ticket, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t := d.findByID(id); t != nil {
		return *t, true
	}
	return model.Ticket{}, false
}

// Messages возвращает копию сообщений тикета в порядке применения.
func (d *Desk) Messages(ticketID string) []model.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.Message
	for i := range d.messages {
		if d.messages[i].TicketID == ticketID {
			out = append(out, d.messages[i])
		}
	}
	return out
}

// ActiveTicketID — текущий сфокусированный тикет (его unread не растёт).
func (d *Desk) ActiveTicketID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeID
}

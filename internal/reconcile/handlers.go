package reconcile

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/desk-sync/internal/classify"
	"github.com/psds-microservice/desk-sync/internal/command"
	"github.com/psds-microservice/desk-sync/internal/errs"
	"github.com/psds-microservice/desk-sync/internal/model"
	"github.com/psds-microservice/desk-sync/internal/relay"
)

// Локальные обработчики мутаций: (a) синхронно меняют локальное состояние,
// (b) ставят в очередь запись в store, (c) ставят в очередь пересылку в relay.
// Состояние меняется и становится видимым до того, как уходит хоть один
// сетевой вызов; сбои сети только логируются и никогда не откатывают локальную
// правку.

// NewCaseID генерирует клиентский шестизначный case id.
func NewCaseID() string {
	return fmt.Sprintf("%d", 100000+rand.IntN(900000))
}

// TicketUpdate — частичная правка полей тикета оператором.
type TicketUpdate struct {
	Subject    *string
	Status     *model.TicketStatus
	Priority   *string
	AdminNotes *string
}

// CreateTicket вставляет готовый тикет (ручной импорт оператором).
func (d *Desk) CreateTicket(t model.Ticket) model.Ticket {
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = NewCaseID()
	}
	if t.Status == "" {
		t.Status = model.TicketStatusOpen
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	d.mu.Lock()
	d.tickets = append([]model.Ticket{t}, d.tickets...)
	d.mu.Unlock()

	d.persistTicket(t)
	d.produceEvent("ticket.created", ticketEventPayload(&t))
	d.publish("ticket.created", t)
	d.scheduleSnapshot()
	return t
}

// UpdateTicket применяет частичную правку. Возвращает ErrTicketNotFound, если
// тикета нет.
func (d *Desk) UpdateTicket(id string, upd TicketUpdate) (model.Ticket, error) {
	d.mu.Lock()
	t := d.findByID(id)
	if t == nil {
		d.mu.Unlock()
		return model.Ticket{}, errs.ErrTicketNotFound
	}
	if upd.Subject != nil {
		t.Subject = *upd.Subject
	}
	if upd.Status != nil {
		t.Status = *upd.Status
	}
	if upd.Priority != nil {
		t.Priority = *upd.Priority
	}
	if upd.AdminNotes != nil {
		t.AdminNotes = *upd.AdminNotes
	}
	t.UpdatedAt = time.Now().UTC()
	snap := *t
	d.mu.Unlock()

	d.persistTicket(snap)
	d.produceEvent("ticket.updated", ticketEventPayload(&snap))
	d.publish("ticket.updated", snap)
	d.scheduleSnapshot()
	return snap, nil
}

// SelectTicket делает тикет активным и сбрасывает его unread-счётчик.
func (d *Desk) SelectTicket(id string) error {
	d.mu.Lock()
	t := d.findByID(id)
	if t == nil {
		d.mu.Unlock()
		return errs.ErrTicketNotFound
	}
	d.activeID = id
	t.UnreadCount = 0
	snap := *t
	d.mu.Unlock()
	d.publish("ticket.updated", snap)
	return nil
}

// SetTypingPreview — эфемерный предпросмотр набора клиента; не персистится.
func (d *Desk) SetTypingPreview(id, text string) {
	d.mu.Lock()
	t := d.findByID(id)
	if t == nil {
		d.mu.Unlock()
		return
	}
	t.TypingPreview = text
	snap := *t
	d.mu.Unlock()
	d.publish("ticket.typing", snap)
}

// SetAdminTyping — эфемерный флаг "оператор печатает".
func (d *Desk) SetAdminTyping(id string, typing bool) {
	d.mu.Lock()
	t := d.findByID(id)
	if t == nil {
		d.mu.Unlock()
		return
	}
	t.AdminTyping = typing
	snap := *t
	d.mu.Unlock()
	d.publish("ticket.typing", snap)
}

// AddPost добавляет объявление в начало списка постов тикета.
func (d *Desk) AddPost(ticketID string, post model.TicketPost) (model.TicketPost, error) {
	post.ID = uuid.NewString()
	post.Timestamp = time.Now().UTC()
	if post.Comments == nil {
		post.Comments = []model.PostComment{}
	}
	d.mu.Lock()
	t := d.findByID(ticketID)
	if t == nil {
		d.mu.Unlock()
		return model.TicketPost{}, errs.ErrTicketNotFound
	}
	t.Posts = append([]model.TicketPost{post}, t.Posts...)
	t.UpdatedAt = post.Timestamp
	snap := *t
	d.mu.Unlock()

	d.persistTicket(snap)
	d.publish("ticket.updated", snap)
	d.scheduleSnapshot()
	return post, nil
}

// AddComment добавляет комментарий к посту.
func (d *Desk) AddComment(ticketID, postID string, c model.PostComment) (model.PostComment, error) {
	c.ID = uuid.NewString()
	c.Timestamp = time.Now().UTC()
	d.mu.Lock()
	t := d.findByID(ticketID)
	if t == nil {
		d.mu.Unlock()
		return model.PostComment{}, errs.ErrTicketNotFound
	}
	found := false
	for i := range t.Posts {
		if t.Posts[i].ID == postID {
			t.Posts[i].Comments = append(t.Posts[i].Comments, c)
			found = true
			break
		}
	}
	if !found {
		d.mu.Unlock()
		return model.PostComment{}, errs.ErrTicketNotFound
	}
	t.UpdatedAt = c.Timestamp
	snap := *t
	d.mu.Unlock()

	d.persistTicket(snap)
	d.publish("ticket.updated", snap)
	d.scheduleSnapshot()
	return c, nil
}

// appendLocalMessage — общий кусок send-обработчиков: локально минтит
// сообщение и обновляет тикет. Возвращает снимки для эффектов.
func (d *Desk) appendLocalMessage(ticketID, text string, sender model.SenderType, att *model.Attachment) (model.Message, model.Ticket, error) {
	msg := model.Message{
		ID:         uuid.NewString(),
		TicketID:   ticketID,
		Text:       text,
		Sender:     sender,
		Timestamp:  time.Now().UTC(),
		Attachment: att,
	}
	d.mu.Lock()
	t := d.findByID(ticketID)
	if t == nil {
		d.mu.Unlock()
		return model.Message{}, model.Ticket{}, errs.ErrTicketNotFound
	}
	d.messages = append(d.messages, msg)
	d.msgIndex[msg.ID] = true
	t.LastMessage = text
	t.UpdatedAt = msg.Timestamp
	if sender == model.SenderAdmin {
		t.AdminTyping = false
	}
	snap := *t
	d.mu.Unlock()
	return msg, snap, nil
}

// ensureTopic лениво создаёт relay-тред при первом исходящем сообщении.
// Свежесозданный id персистится до того, как в очередь встанет сама отправка,
// поэтому повторная попытка не создаст дубликат треда.
func (d *Desk) ensureTopic(ctx context.Context, ticketID string) int64 {
	d.mu.Lock()
	t := d.findByID(ticketID)
	if t == nil {
		d.mu.Unlock()
		return 0
	}
	topicID := t.TopicID
	d.mu.Unlock()
	if topicID != 0 || d.deps.Relay == nil || !d.deps.Relay.Enabled() {
		return topicID
	}

	created, err := d.deps.Relay.CreateTopic(ctx, "Case "+ticketID)
	if err != nil {
		log.Printf("reconcile: create topic for %s: %v", ticketID, err)
		return 0
	}
	d.mu.Lock()
	t = d.findByID(ticketID)
	if t == nil {
		d.mu.Unlock()
		return 0
	}
	if t.TopicID == 0 {
		t.TopicID = created
		t.UpdatedAt = time.Now().UTC()
	}
	topicID = t.TopicID
	snap := *t
	d.mu.Unlock()

	d.persistTicket(snap)
	d.publish("ticket.updated", snap)
	d.scheduleSnapshot()
	return topicID
}

// SendCustomerMessage — отправка из клиентского виджета.
func (d *Desk) SendCustomerMessage(ctx context.Context, ticketID, text string, att *model.Attachment) (model.Message, error) {
	msg, snap, err := d.appendLocalMessage(ticketID, text, model.SenderCustomer, att)
	if err != nil {
		return model.Message{}, err
	}
	d.persistMessage(msg)
	d.persistTicket(snap)
	d.produceEvent("message.created", messageEventPayload(&msg))
	d.publish("message.created", msg)
	d.scheduleSnapshot()

	topicID := d.ensureTopic(ctx, ticketID)
	if topicID != 0 && d.deps.Relay != nil && d.deps.Relay.Enabled() {
		sender := senderDisplayName(&snap)
		d.enqueue(func(jobCtx context.Context) {
			if err := d.deps.Relay.SendMessage(jobCtx, topicID, text, sender); err != nil {
				log.Printf("reconcile: relay send for %s: %v", ticketID, err)
			}
		})
	}
	return msg, nil
}

// SendCustomerFile — загрузка файла из клиентского виджета. Файл уходит в
// relay multipart-запросом; локально остаётся сообщение с вложением.
func (d *Desk) SendCustomerFile(ctx context.Context, ticketID, filename string, data []byte, caption string) (model.Message, error) {
	attType := model.AttachmentImage
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp4", ".mov", ".webm", ".avi":
		attType = model.AttachmentVideo
	}
	text := caption
	if text == "" {
		text = "📎 " + filename
	}
	msg, snap, err := d.appendLocalMessage(ticketID, text, model.SenderCustomer, &model.Attachment{Type: attType})
	if err != nil {
		return model.Message{}, err
	}
	d.persistMessage(msg)
	d.persistTicket(snap)
	d.produceEvent("message.created", messageEventPayload(&msg))
	d.publish("message.created", msg)
	d.scheduleSnapshot()

	topicID := d.ensureTopic(ctx, ticketID)
	if topicID != 0 && d.deps.Relay != nil && d.deps.Relay.Enabled() {
		sender := senderDisplayName(&snap)
		d.enqueue(func(jobCtx context.Context) {
			if err := d.deps.Relay.SendMedia(jobCtx, topicID, filename, bytes.NewReader(data), caption, sender); err != nil {
				log.Printf("reconcile: relay media for %s: %v", ticketID, err)
			}
		})
	}
	return msg, nil
}

// SendAdminMessage — ответ оператора из дашборда.
func (d *Desk) SendAdminMessage(ctx context.Context, ticketID, text string, att *model.Attachment) (model.Message, error) {
	msg, snap, err := d.appendLocalMessage(ticketID, text, model.SenderAdmin, att)
	if err != nil {
		return model.Message{}, err
	}
	d.persistMessage(msg)
	d.persistTicket(snap)
	d.produceEvent("message.created", messageEventPayload(&msg))
	d.publish("message.created", msg)
	d.scheduleSnapshot()

	if snap.TopicID != 0 && d.deps.Relay != nil && d.deps.Relay.Enabled() {
		topicID := snap.TopicID
		d.enqueue(func(jobCtx context.Context) {
			if err := d.deps.Relay.SendAdminReply(jobCtx, topicID, text); err != nil {
				log.Printf("reconcile: relay admin send for %s: %v", ticketID, err)
			}
		})
	}
	return msg, nil
}

func senderDisplayName(t *model.Ticket) string {
	if t.Profile != nil && t.Profile.FullName != "" {
		return t.Profile.FullName
	}
	if t.CustomerName != "" {
		return t.CustomerName
	}
	return "Customer"
}

// UpdateProfileByAdmin — правка анкеты оператором: локально + store + команда
// UPDATE_PROFILE в relay, чтобы другая сторона догнала состояние.
func (d *Desk) UpdateProfileByAdmin(ctx context.Context, ticketID string, patch model.CustomerProfile) (model.Ticket, error) {
	d.mu.Lock()
	t := d.findByID(ticketID)
	if t == nil {
		d.mu.Unlock()
		return model.Ticket{}, errs.ErrTicketNotFound
	}
	t.Profile = model.MergeProfile(t.Profile, patch)
	if patch.FullName != "" {
		t.CustomerName = patch.FullName
	}
	t.UpdatedAt = time.Now().UTC()
	snap := *t
	d.mu.Unlock()

	d.persistTicket(snap)
	d.produceEvent("ticket.updated", ticketEventPayload(&snap))
	d.publish("ticket.updated", snap)
	d.scheduleSnapshot()
	d.forwardCommand(snap.TopicID, command.KindUpdateProfile, patch, "")
	return snap, nil
}

// SubmitProfile — клиент подаёт анкету на проверку: целиком ложится в
// pendingProfile до решения оператора.
func (d *Desk) SubmitProfile(ticketID string, patch model.CustomerProfile) (model.Ticket, error) {
	d.mu.Lock()
	t := d.findByID(ticketID)
	if t == nil {
		d.mu.Unlock()
		return model.Ticket{}, errs.ErrTicketNotFound
	}
	p := patch
	t.PendingProfile = &p
	t.UpdatedAt = time.Now().UTC()
	snap := *t
	d.mu.Unlock()

	d.persistTicket(snap)
	d.publish("ticket.updated", snap)
	d.scheduleSnapshot()
	return snap, nil
}

// ApproveProfile — pending переходит в confirmed, pending очищается; другой
// стороне уходит команда APPROVE_KYC и человекочитаемое уведомление.
func (d *Desk) ApproveProfile(ctx context.Context, ticketID string) (model.Ticket, error) {
	d.mu.Lock()
	t := d.findByID(ticketID)
	if t == nil {
		d.mu.Unlock()
		return model.Ticket{}, errs.ErrTicketNotFound
	}
	if t.PendingProfile != nil {
		t.Profile = model.MergeProfile(t.Profile, *t.PendingProfile)
	}
	t.PendingProfile = nil
	if t.Profile != nil && t.Profile.FullName != "" {
		t.CustomerName = t.Profile.FullName
	}
	t.UpdatedAt = time.Now().UTC()
	snap := *t
	d.mu.Unlock()

	d.persistTicket(snap)
	d.produceEvent("ticket.updated", ticketEventPayload(&snap))
	d.publish("ticket.updated", snap)
	d.scheduleSnapshot()
	d.forwardCommand(snap.TopicID, command.KindApproveKYC, model.CustomerProfile{},
		"✅ Your profile has been approved.")
	return snap, nil
}

// RejectProfile — pending очищается, confirmed не трогается.
func (d *Desk) RejectProfile(ctx context.Context, ticketID string) (model.Ticket, error) {
	d.mu.Lock()
	t := d.findByID(ticketID)
	if t == nil {
		d.mu.Unlock()
		return model.Ticket{}, errs.ErrTicketNotFound
	}
	t.PendingProfile = nil
	t.UpdatedAt = time.Now().UTC()
	snap := *t
	d.mu.Unlock()

	d.persistTicket(snap)
	d.produceEvent("ticket.updated", ticketEventPayload(&snap))
	d.publish("ticket.updated", snap)
	d.scheduleSnapshot()
	d.forwardCommand(snap.TopicID, command.KindRejectKYC, model.CustomerProfile{},
		"❌ Your profile was not approved. Please review and resubmit.")
	return snap, nil
}

// forwardCommand ставит в очередь закодированную команду и, если задано,
// человекочитаемое уведомление следом.
func (d *Desk) forwardCommand(topicID int64, kind command.Kind, patch model.CustomerProfile, notice string) {
	if topicID == 0 || d.deps.Relay == nil || !d.deps.Relay.Enabled() {
		return
	}
	encoded, err := command.Encode(kind, patch)
	if err != nil {
		log.Printf("reconcile: encode %s: %v", kind, err)
		return
	}
	d.enqueue(func(ctx context.Context) {
		if err := d.deps.Relay.SendRaw(ctx, topicID, encoded); err != nil {
			log.Printf("reconcile: forward %s: %v", kind, err)
		}
	})
	if notice != "" {
		d.enqueue(func(ctx context.Context) {
			if err := d.deps.Relay.SendAdminReply(ctx, topicID, notice); err != nil {
				log.Printf("reconcile: notice for %s: %v", kind, err)
			}
		})
	}
}

// InitSession — инициализация клиентского потока: находит или создаёт тикет
// case id, обновляет customerInfo, лениво создаёт тред и отправляет
// discovery-объявление.
func (d *Desk) InitSession(ctx context.Context, caseID string, info *model.CustomerInfo) (model.Ticket, error) {
	if caseID == "" {
		caseID = NewCaseID()
	}

	d.mu.Lock()
	t := d.findByID(caseID)
	created := false
	if t == nil {
		created = true
		now := time.Now().UTC()
		nt := model.Ticket{
			ID:           caseID,
			CustomerName: "Customer",
			Subject:      "Support request",
			Priority:     "medium",
			Status:       model.TicketStatusOpen,
			CustomerInfo: info,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if d.deps.DefaultPost != nil {
			post := *d.deps.DefaultPost
			post.ID = uuid.NewString()
			post.Timestamp = now
			post.Comments = []model.PostComment{}
			nt.Posts = []model.TicketPost{post}
		}
		d.tickets = append([]model.Ticket{nt}, d.tickets...)
		t = &d.tickets[0]
	} else if info != nil {
		// Сессия повторная: инфо о клиенте обновляется для трекинга локации.
		t.CustomerInfo = info
		t.UpdatedAt = time.Now().UTC()
	}
	d.activeID = caseID
	needTopic := t.TopicID == 0
	snap := *t
	d.mu.Unlock()

	d.persistTicket(snap)
	if created {
		d.produceEvent("ticket.created", ticketEventPayload(&snap))
		d.publish("ticket.created", snap)
	} else {
		d.publish("ticket.updated", snap)
	}
	d.scheduleSnapshot()

	if needTopic && d.deps.Relay != nil && d.deps.Relay.Enabled() {
		if topicID := d.ensureTopic(ctx, caseID); topicID != 0 {
			announcement := classify.FormatAnnouncement(caseID, info)
			d.enqueue(func(jobCtx context.Context) {
				if err := d.deps.Relay.SendMessage(jobCtx, topicID, announcement, relay.SystemSender); err != nil {
					log.Printf("reconcile: announce session %s: %v", caseID, err)
				}
			})
		}
	}

	final, _ := d.Ticket(caseID)
	return final, nil
}

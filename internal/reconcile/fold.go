package reconcile

import (
	"strconv"
	"time"

	"github.com/psds-microservice/desk-sync/internal/classify"
	"github.com/psds-microservice/desk-sync/internal/command"
	"github.com/psds-microservice/desk-sync/internal/model"
)

// ApplyBatch складывает пачку классифицированных событий в состояние. События
// применяются в порядке доставки relay; сбой одного события изолирован и не
// останавливает пачку. Сетевые эффекты ставятся в очередь и исполняются после
// fold — падение посреди fold не оставляет полуотправленных записей.
func (d *Desk) ApplyBatch(events []classify.Event) {
	d.mu.Lock()
	changed := false
	for i := range events {
		if d.applyEvent(&events[i]) {
			changed = true
		}
	}
	d.mu.Unlock()
	if changed {
		d.scheduleSnapshot()
	}
}

// applyEvent — шаги §reconciliation для одного события. Вызывается под mu.
// Возвращает true, если состояние изменилось.
func (d *Desk) applyEvent(ev *classify.Event) bool {
	if ev.Kind == classify.KindIgnore {
		return false
	}

	// Шаг 1: целевой тикет по id треда.
	target := d.findByTopic(ev.Update.TopicID)

	// Шаг 2: discovery — только на admin-стороне.
	if target == nil {
		if d.deps.Viewer != model.SenderAdmin || ev.Update.TopicID == 0 {
			// Шаг 5: нет цели и discovery запрещён — событие молча
			// отбрасывается.
			return false
		}
		target = d.discover(ev)
		if target == nil {
			return false
		}
	}

	switch ev.Kind {
	case classify.KindCommand:
		// Шаг 3: команды применяются к тикету и никогда не попадают в
		// переписку.
		d.applyCommand(target, ev.Command, ev.Update.Timestamp)
		snap := *target
		d.persistTicket(snap)
		d.produceEvent("ticket.updated", ticketEventPayload(&snap))
		d.publish("ticket.updated", snap)
		return true

	case classify.KindChat:
		// Шаг 4: дедупликация по id relay против всей накопленной коллекции
		// (уже применённые события пачки включительно).
		id := strconv.FormatInt(ev.Update.ID, 10)
		if d.msgIndex[id] {
			return false
		}
		msg := model.Message{
			ID:         id,
			TicketID:   target.ID,
			Text:       ev.Chat.Text,
			Sender:     ev.Chat.Sender,
			Timestamp:  ev.Update.Timestamp,
			Attachment: ev.Chat.Attachment,
		}
		d.messages = append(d.messages, msg)
		d.msgIndex[id] = true

		target.LastMessage = ev.Chat.Text
		target.UpdatedAt = ev.Update.Timestamp
		if target.ID != d.activeID {
			target.UnreadCount++
		}
		snap := *target
		d.persistMessage(msg)
		d.persistTicket(snap)
		d.produceEvent("message.created", messageEventPayload(&msg))
		d.publish("message.created", msg)
		d.publish("ticket.updated", snap)
		return true

	case classify.KindDiscovery:
		// Discovery по уже связанному тикету ничего не добавляет (объявление
		// не является сообщением чата).
		return false
	}
	return false
}

// discover — шаг 2: привязка по объявленному case id, иначе anonymous-тикет с
// синтетическим id из id треда. Вызывается под mu.
func (d *Desk) discover(ev *classify.Event) *model.Ticket {
	topicID := ev.Update.TopicID

	if ev.Kind == classify.KindDiscovery && ev.Discovery.CaseID != "" {
		caseID := ev.Discovery.CaseID
		if existing := d.findByID(caseID); existing != nil {
			// Тикет уже известен локально, но тред не был привязан —
			// единственный случай, когда TopicID назначается задним числом.
			if existing.TopicID == 0 {
				existing.TopicID = topicID
				existing.UpdatedAt = ev.Update.Timestamp
				snap := *existing
				d.persistTicket(snap)
				d.publish("ticket.updated", snap)
			}
			return existing
		}
		return d.mint(caseID, "Customer "+caseID, ev)
	}

	return d.mint("remote-"+strconv.FormatInt(topicID, 10), guestName(ev.Update.SenderName), ev)
}

func guestName(sender string) string {
	if sender == "" {
		return "Guest"
	}
	return "Guest " + sender
}

// mint создаёт новый тикет из входящего события. Вызывается под mu.
func (d *Desk) mint(id, customerName string, ev *classify.Event) *model.Ticket {
	now := ev.Update.Timestamp
	t := model.Ticket{
		ID:           id,
		CustomerName: customerName,
		Subject:      "Imported conversation",
		Priority:     "medium",
		Status:       model.TicketStatusOpen,
		LastMessage:  ev.Update.Text,
		TopicID:      ev.Update.TopicID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if ev.Kind == classify.KindDiscovery && ev.Discovery.IP != "" {
		t.CustomerInfo = &model.CustomerInfo{IP: ev.Discovery.IP, Device: "Relay"}
	}
	d.tickets = append([]model.Ticket{t}, d.tickets...)
	minted := &d.tickets[0]
	snap := *minted
	d.persistTicket(snap)
	d.produceEvent("ticket.created", ticketEventPayload(&snap))
	d.publish("ticket.created", snap)
	return minted
}

// applyCommand — чистый переход состояния анкеты. Вызывается под mu.
func (d *Desk) applyCommand(t *model.Ticket, cmd *command.Command, ts time.Time) {
	switch cmd.Kind {
	case command.KindUpdateProfile:
		t.Profile = model.MergeProfile(t.Profile, cmd.Profile)
		if cmd.Profile.FullName != "" {
			t.CustomerName = cmd.Profile.FullName
		}
	case command.KindApproveKYC:
		if t.PendingProfile != nil {
			t.Profile = model.MergeProfile(t.Profile, *t.PendingProfile)
		}
		t.PendingProfile = nil
		if t.Profile != nil && t.Profile.FullName != "" {
			t.CustomerName = t.Profile.FullName
		}
	case command.KindRejectKYC:
		// Отклонение стирает только pending; подтверждённая анкета не трогается.
		t.PendingProfile = nil
	}
	t.UpdatedAt = ts
}

// MergeCloud — bootstrap-merge со снапшотом store: записи store образуют базу
// целиком ("store wins"), локальные тикеты с неизвестными store id
// дописываются без изменений. Не field-level: локальные правки тикета,
// известного store, молча теряются.
func (d *Desk) MergeCloud(remote []model.Ticket) {
	if len(remote) == 0 {
		return
	}
	d.mu.Lock()
	merged := append([]model.Ticket(nil), remote...)
	known := make(map[string]bool, len(remote))
	for i := range remote {
		known[remote[i].ID] = true
	}
	for i := range d.tickets {
		if !known[d.tickets[i].ID] {
			merged = append(merged, d.tickets[i])
		}
	}
	d.tickets = merged
	d.mu.Unlock()
	d.scheduleSnapshot()
}

// MergeMessages — объединение по id: уже известные локально сообщения
// сохраняются как есть, новые дописываются и сортируются по времени.
func (d *Desk) MergeMessages(remote []model.Message) {
	if len(remote) == 0 {
		return
	}
	d.mu.Lock()
	added := false
	for i := range remote {
		if !d.msgIndex[remote[i].ID] {
			d.messages = append(d.messages, remote[i])
			d.msgIndex[remote[i].ID] = true
			added = true
		}
	}
	if added {
		sortMessagesByTime(d.messages)
	}
	d.mu.Unlock()
	if added {
		d.scheduleSnapshot()
	}
}

func sortMessagesByTime(msgs []model.Message) {
	// Вставками: коллекция почти упорядочена, хвост — догруженные из store.
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && msgs[j].Timestamp.Before(msgs[j-1].Timestamp); j-- {
			msgs[j], msgs[j-1] = msgs[j-1], msgs[j]
		}
	}
}

// UpdateCustomerInfoByTopic — отложенное обогащение discovery (гео-данные).
// Заходит через публичную поверхность Desk, никогда изнутри fold.
func (d *Desk) UpdateCustomerInfoByTopic(topicID int64, info *model.CustomerInfo) {
	if info == nil {
		return
	}
	d.mu.Lock()
	t := d.findByTopic(topicID)
	if t == nil {
		d.mu.Unlock()
		return
	}
	t.CustomerInfo = info
	t.UpdatedAt = time.Now().UTC()
	snap := *t
	d.mu.Unlock()
	d.persistTicket(snap)
	d.publish("ticket.updated", snap)
	d.scheduleSnapshot()
}

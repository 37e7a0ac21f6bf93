// Package engine — sync-петля: relay -> classifier -> reconciler, навсегда.
package engine

import (
	"context"
	"log"
	"time"

	"github.com/psds-microservice/desk-sync/internal/classify"
	"github.com/psds-microservice/desk-sync/internal/geoip"
	"github.com/psds-microservice/desk-sync/internal/model"
	"github.com/psds-microservice/desk-sync/internal/reconcile"
	"github.com/psds-microservice/desk-sync/internal/relay"
)

// Poller — входящая поверхность relay (подменяется в тестах).
type Poller interface {
	Enabled() bool
	Poll(ctx context.Context, offset int64) ([]relay.Update, int64, error)
}

// Engine крутит цикл Polling -> Processing -> Polling; после любой ошибки —
// BackingOff с фиксированной задержкой. Петля не завершается по ошибке
// никогда; выход только по отмене ctx.
type Engine struct {
	relay  Poller
	desk   *reconcile.Desk
	geo    *geoip.Client
	viewer model.SenderType

	backoff  time.Duration
	idleWait time.Duration

	// offset мутируется только самой петлёй после успешного Poll.
	offset int64
}

func New(p Poller, desk *reconcile.Desk, geo *geoip.Client, viewer model.SenderType) *Engine {
	return &Engine{
		relay:    p,
		desk:     desk,
		geo:      geo,
		viewer:   viewer,
		backoff:  3 * time.Second,
		idleWait: 5 * time.Second,
	}
}

// Run блокируется до отмены ctx.
func (e *Engine) Run(ctx context.Context) {
	log.Printf("engine: sync loop started (viewer=%s)", e.viewer)
	for {
		if ctx.Err() != nil {
			return
		}
		if !e.relay.Enabled() {
			// ConfigMissing: фича тихо выключена, процесс остаётся жив в
			// local-only режиме.
			if !sleep(ctx, e.idleWait) {
				return
			}
			continue
		}

		updates, next, err := e.relay.Poll(ctx, e.offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("engine: poll: %v", err)
			if !sleep(ctx, e.backoff) {
				return
			}
			continue
		}
		e.offset = next
		if len(updates) == 0 {
			// Пустая пачка — сразу следующий long-poll.
			continue
		}

		events := make([]classify.Event, 0, len(updates))
		for _, u := range updates {
			events = append(events, classify.Classify(u, e.viewer))
		}
		e.desk.ApplyBatch(events)

		// Отложенное обогащение: географию discovery-IP тянем вне fold, чтобы
		// внешний lookup не задерживал применение остальной пачки.
		for _, ev := range events {
			if ev.Kind == classify.KindDiscovery && ev.Discovery.IP != "" {
				go e.enrich(ctx, ev.Update.TopicID, ev.Discovery.IP)
			}
		}
	}
}

func (e *Engine) enrich(ctx context.Context, topicID int64, ip string) {
	if e.geo == nil {
		return
	}
	lookupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if info := e.geo.Lookup(lookupCtx, ip); info != nil {
		e.desk.UpdateCustomerInfoByTopic(topicID, info)
	}
}

// sleep ждёт d или отмену ctx; false — пора выходить.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

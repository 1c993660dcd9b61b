package notification

import (
	"context"
	"sync"
	"time"

	"github.com/chuoapp/chuo/core"
	"github.com/chuoapp/chuo/storage/store"
)

const (
	outboxSize    = 64
	outboxTimeout = 10 * time.Second
)

// Event is one batch of side effects produced by a primary mutation. The
// notifications of an event are written atomically; the optional mail is
// handed to the email service as is.
type Event struct {
	Notes []Notification
	Mail  *core.EmailMessage
}

// Outbox delivers notification side effects off the request path. Delivery
// is best effort: a failed event is logged and dropped, never retried, and
// never fails the mutation that produced it.
type Outbox struct {
	db      store.Store
	mailSvc core.EmailService
	logger  core.Logger

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewOutbox(db store.Store, mailSvc core.EmailService, logger core.Logger) *Outbox {
	ob := &Outbox{
		db:      db,
		mailSvc: mailSvc,
		logger:  logger,
		events:  make(chan Event, outboxSize),
		done:    make(chan struct{}),
	}
	go ob.work()
	return ob
}

// Enqueue hands an event to the worker without blocking the caller. When the
// buffer is full the event is dropped with a warning.
func (ob *Outbox) Enqueue(evt Event) {
	select {
	case ob.events <- evt:
	default:
		ob.logger.Warn("notification outbox full, dropping event")
	}
}

// Close stops accepting events and waits for the buffered ones to drain.
func (ob *Outbox) Close() {
	ob.closeOnce.Do(func() {
		close(ob.events)
		<-ob.done
	})
}

func (ob *Outbox) work() {
	defer close(ob.done)
	for evt := range ob.events {
		ob.deliver(evt)
	}
}

func (ob *Outbox) deliver(evt Event) {
	if len(evt.Notes) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), outboxTimeout)
		ops := make([]store.Op, 0, len(evt.Notes))
		for _, note := range evt.Notes {
			ops = append(ops, store.CreateOp(Collection, note.ID, note))
		}
		if err := ob.db.Batch(ctx, ops...); err != nil {
			ob.logger.Error("delivering notifications", err)
		}
		cancel()
	}
	if evt.Mail != nil {
		ob.mailSvc.SendMessages(evt.Mail)
	}
}

package outbox

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

const componentOutbox = "outbox"

var ErrBusClosed = errors.New("outbox: bus closed")

// Bus is an in-process event bus. Events are queued and fanned out to subscribers on
// a background loop, so publishers never wait on side effects. It is not durable:
// events still queued when the process dies are lost.
type Bus struct {
	mu             sync.RWMutex
	subs           map[string][]domoutbox.Handler
	queue          chan domoutbox.Event
	closed         bool
	startOnce      sync.Once
	stopOnce       sync.Once
	done           chan struct{}
	concurrency    int
	handlerTimeout time.Duration
	log            observability.Logger
	handled        observability.Counter
}

type Option func(*Bus)

func WithQueueSize(n int) Option { return func(b *Bus) { b.queue = make(chan domoutbox.Event, n) } }

func WithConcurrency(n int) Option { return func(b *Bus) { b.concurrency = n } }

func WithHandlerTimeout(d time.Duration) Option { return func(b *Bus) { b.handlerTimeout = d } }

func NewBus(tel observability.Observability, opts ...Option) *Bus {
	if tel == nil {
		tel = observability.Nop()
	}
	b := &Bus{
		subs:           make(map[string][]domoutbox.Handler),
		queue:          make(chan domoutbox.Event, 1024),
		done:           make(chan struct{}),
		concurrency:    8,
		handlerTimeout: 30 * time.Second,
		log:            tel.Logger().With(observability.F("component", componentOutbox)),
		handled:        tel.Metrics().Counter(observability.MUsecaseRequests),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) Subscribe(eventName string, h domoutbox.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventName] = append(b.subs[eventName], h)
}

func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		go b.dispatchLoop(context.WithoutCancel(ctx))
		logctx.FromOr(ctx, b.log).Info("event_bus_started")
	})
}

// Stop refuses new events and waits for queued ones to be handled, or for ctx to end.
func (b *Bus) Stop(ctx context.Context) error {
	var err error
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.queue)
		b.mu.Unlock()

		b.startOnce.Do(func() { close(b.done) })
		select {
		case <-b.done:
			logctx.FromOr(ctx, b.log).Info("event_bus_stopped")
		case <-ctx.Done():
			err = ctx.Err()
			logctx.FromOr(ctx, b.log).Warn("event_bus_stop_timeout", observability.F("pending", len(b.queue)))
		}
	})
	return err
}

func (b *Bus) Publish(ctx context.Context, e domoutbox.Event) error {
	if e == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	logger := logctx.FromOr(ctx, b.log).With(observability.F("event", e.EventName()))
	select {
	case b.queue <- e:
		logger.Debug("event_enqueued")
		return nil
	case <-ctx.Done():
		logger.Warn("event_enqueue_aborted", observability.F("error", ctx.Err()))
		return ctx.Err()
	}
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	defer close(b.done)
	for e := range b.queue {
		b.fanout(ctx, e)
	}
}

func (b *Bus) fanout(ctx context.Context, e domoutbox.Event) {
	name := e.EventName()

	b.mu.RLock()
	handlers := append([]domoutbox.Handler(nil), b.subs[name]...)
	b.mu.RUnlock()

	logger := b.log.With(observability.F("event", name))
	if len(handlers) == 0 {
		logger.Debug("event_dropped_no_subscriber")
		return
	}

	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup
	for _, h := range handlers {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("event_handler_panic",
						observability.F("panic", r),
						observability.F("stack", string(debug.Stack())),
					)
					b.count(name, "panic")
				}
				<-sem
				wg.Done()
			}()

			hctx, cancel := context.WithTimeout(ctx, b.handlerTimeout)
			defer cancel()
			if err := h(logctx.With(hctx, logger), e); err != nil {
				logger.Warn("event_handler_error", observability.F("error", err))
				b.count(name, "error")
				return
			}
			b.count(name, "success")
		}()
	}
	wg.Wait()

	logger.Debug("event_fanned_out", observability.F("handlers", len(handlers)))
}

func (b *Bus) count(event, outcome string) {
	b.handled.Add(1,
		observability.L("use_case", "outbox."+event),
		observability.L("outcome", outcome),
	)
}

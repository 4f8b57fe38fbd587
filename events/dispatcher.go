package events

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

// ErrBusy is returned when the dispatcher could not take an event in time.
var ErrBusy = errors.New("event dispatcher busy")

// Options tunes a Dispatcher.
type Options struct {
	Workers int
	Buffer  int
	// Timeout bounds a single delivery.
	Timeout time.Duration
	// Handoff is how long Publish waits for buffer space.
	Handoff time.Duration
}

// Dispatcher hands events to a pool of workers that deliver them with next.
// Publish never waits on delivery.
type Dispatcher struct {
	next    Publisher
	log     *log.Logger
	jobs    chan domain.Event
	timeout time.Duration
	handoff time.Duration
	wg      sync.WaitGroup
	closing sync.Once
}

// NewDispatcher starts the workers.
func NewDispatcher(next Publisher, opts Options, logger *log.Logger) *Dispatcher {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Buffer < 0 {
		opts.Buffer = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	d := &Dispatcher{
		next:    next,
		log:     logger,
		jobs:    make(chan domain.Event, opts.Buffer),
		timeout: opts.Timeout,
		handoff: opts.Handoff,
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("event dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", opts.Workers, opts.Buffer, opts.Timeout, opts.Handoff)
	return d
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for ev := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.next.Publish(ctx, ev)
		cancel()
		if err != nil {
			d.log.WithError(err).WithFields(log.Fields{
				"event":  ev.Type,
				"entity": ev.EntityID,
				"user":   ev.UserID,
				"worker": id,
			}).Error("event delivery failed")
		}
	}
}

// Publish queues ev for delivery.
func (d *Dispatcher) Publish(ctx context.Context, ev domain.Event) error {
	if ok, closed := trySendNonBlocking(d.jobs, ev); closed {
		return ErrBusy
	} else if ok {
		return nil
	}
	if d.handoff <= 0 {
		return ErrBusy
	}

	timer := time.NewTimer(d.handoff)
	defer timer.Stop()

	ok, _ := sendWithTimer(ctx, d.jobs, ev, timer.C)
	if !ok {
		return ErrBusy
	}
	return nil
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.closing.Do(func() { close(d.jobs) })
	d.wg.Wait()
}

func trySendNonBlocking(ch chan domain.Event, ev domain.Event) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ctx context.Context, ch chan domain.Event, ev domain.Event, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	case <-timer:
		return false, false
	case <-ctx.Done():
		return false, false
	}
}

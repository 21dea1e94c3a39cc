package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"schedbot/internal/clock"
	"schedbot/internal/eventbus"
	"schedbot/internal/storage"
	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

// ErrPassInProgress is returned by RunPass while another pass is running.
var ErrPassInProgress = errors.New("delivery pass already in progress")

// Sender delivers one message body to a destination.
type Sender = kit.Deliverer

// PassResult summarizes one delivery pass.
type PassResult struct {
	At           time.Time
	Due          int
	Sent         int
	Failed       int
	DeleteErrors int
	Took         time.Duration
}

type Service struct {
	store  storage.Store
	sender Sender
	clock  clock.Clock
	bus    eventbus.Bus
	log    logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	c       *cron.Cron
	entry   cron.EntryID
	job     cron.Job

	running  atomic.Bool
	inflight sync.WaitGroup
	last     atomic.Pointer[PassResult]
}

func New(cfg Config, store storage.Store, sender Sender, clk clock.Clock, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	cfg = cfg.normalized()
	return &Service{
		store:   store,
		sender:  sender,
		clock:   clk,
		bus:     bus,
		log:     log.With(logx.String("comp", "delivery")),
		cfg:     cfg,
		limiter: newLimiter(cfg.RatePerSec),
	}
}

func newLimiter(perSec int) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSec), perSec)
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start schedules periodic passes. No pass runs before ready is closed; ticks
// that fire earlier are skipped. Passes stop when ctx is cancelled or Stop is called.
func (s *Service) Start(ctx context.Context, ready <-chan struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	sched, err := ParseInterval(s.cfg.Interval)
	if err != nil {
		return err
	}

	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.job = cron.FuncJob(func() {
		select {
		case <-ready:
		default:
			s.log.Debug("tick skipped: not ready")
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.tick(ctx)
	})
	s.entry = s.c.Schedule(sched, s.job)
	s.c.Start()
	s.log.Info("delivery started",
		logx.String("interval", s.cfg.Interval),
		logx.Int("rate_per_sec", s.cfg.RatePerSec),
	)
	return nil
}

// Apply swaps in a new config. A changed interval reschedules the tick.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.normalized()
	sched, err := ParseInterval(cfg.Interval)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if old.RatePerSec != cfg.RatePerSec {
		s.limiter = newLimiter(cfg.RatePerSec)
	}
	if s.c != nil && old.Interval != cfg.Interval {
		s.c.Remove(s.entry)
		s.entry = s.c.Schedule(sched, s.job)
		s.log.Info("delivery interval changed", logx.String("from", old.Interval), logx.String("to", cfg.Interval))
	}
	return nil
}

// Stop halts ticking and waits for a running pass to finish, up to ctx.
// The store stays open; the caller closes it afterwards.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		if c != nil {
			<-c.Stop().Done()
		}
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastPass returns the result of the most recent completed pass.
func (s *Service) LastPass() (PassResult, bool) {
	p := s.last.Load()
	if p == nil {
		return PassResult{}, false
	}
	return *p, true
}

func (s *Service) tick(ctx context.Context) {
	res, err := s.RunPass(ctx)
	switch {
	case errors.Is(err, ErrPassInProgress):
		s.log.Debug("tick skipped: pass in progress")
	case err != nil:
		s.log.Error("delivery pass failed", logx.Err(err))
	case res.Due > 0:
		s.log.Info("delivery pass",
			logx.Int("due", res.Due),
			logx.Int("sent", res.Sent),
			logx.Int("failed", res.Failed),
			logx.Duration("took", res.Took),
		)
	}
}

// RunPass delivers every row due at the clock's current time, in store order.
//
// A failing row is kept and does not stop the pass. Only one pass runs at a
// time; a concurrent call returns ErrPassInProgress.
func (s *Service) RunPass(ctx context.Context) (PassResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return PassResult{}, ErrPassInProgress
	}
	s.inflight.Add(1)
	defer func() {
		s.running.Store(false)
		s.inflight.Done()
	}()

	start := time.Now()
	res := PassResult{At: s.clock.Now()}
	due, err := s.store.ListDue(ctx, res.At)
	if err != nil {
		return res, fmt.Errorf("list due: %w", err)
	}
	res.Due = len(due)

	s.mu.Lock()
	cfg := s.cfg
	limiter := s.limiter
	s.mu.Unlock()
	flags := kit.DeliveryFlags{Urgent: cfg.Urgent, MentionEveryone: cfg.MentionEveryone}

	for _, m := range due {
		// Rows left over on shutdown stay due for the next run.
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		if err := s.send(ctx, cfg.SendTimeout, m, flags); err != nil {
			res.Failed++
			s.log.Warn("delivery failed, will retry",
				logx.Uint64("owner_id", m.OwnerID),
				logx.Uint64("destination_id", m.DestinationID),
				logx.Time("send_at", m.SendAt),
				logx.Err(err),
			)
			s.publish(eventbus.TypeDeliveryFailed, m, err)
			continue
		}
		res.Sent++
		s.publish(eventbus.TypeDeliverySent, m, nil)

		// The send already happened; finish the delete even if ctx was just cancelled.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		err := s.store.Delete(dctx, m.Key())
		cancel()
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			res.DeleteErrors++
			s.log.Error("delete after delivery failed; message may be sent again",
				logx.Uint64("owner_id", m.OwnerID),
				logx.Uint64("destination_id", m.DestinationID),
				logx.Time("send_at", m.SendAt),
				logx.Err(err),
			)
		}
	}

	res.Took = time.Since(start)
	s.last.Store(&res)
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeDeliveryPass, Data: res})
	return res, nil
}

func (s *Service) send(ctx context.Context, timeout time.Duration, m storage.ScheduledMessage, flags kit.DeliveryFlags) (err error) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return s.sender.Deliver(sctx, m.DestinationID, m.Body, flags)
}

func (s *Service) publish(typ string, m storage.ScheduledMessage, err error) {
	ref := eventbus.MessageRef{OwnerID: m.OwnerID, DestinationID: m.DestinationID, SendAt: m.SendAt}
	if err != nil {
		ref.Err = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ref})
}

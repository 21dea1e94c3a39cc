// Package schedule is the command-facing API over the scheduled-message store:
// create, list and cancel, plus parsing of user-supplied times and bodies.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"schedbot/internal/clock"
	"schedbot/internal/eventbus"
	"schedbot/internal/storage"
	logx "schedbot/pkg/logx"
)

// ErrMalformedInput marks user input that cannot be turned into a schedule.
var ErrMalformedInput = errors.New("malformed input")

// InputLayout is the user-facing time format, interpreted as UTC.
const InputLayout = "2006/01/02 15:04:05"

// MaxBodyRunes bounds a message body. Adapters split bodies longer than their
// platform's per-message limit.
const MaxBodyRunes = 4000

// Request is one message to schedule. IDs are opaque and the body may be
// empty; adapters send a placeholder for an empty body.
type Request struct {
	OwnerID       uint64
	DestinationID uint64
	SendAt        time.Time `validate:"required"`
	Body          string    `validate:"max=4000"`
}

type Service struct {
	store    storage.Store
	clock    clock.Clock
	bus      eventbus.Bus
	log      logx.Logger
	validate *validator.Validate
}

func New(store storage.Store, clk clock.Clock, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{
		store:    store,
		clock:    clk,
		bus:      bus,
		log:      log.With(logx.String("comp", "schedule")),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time { return s.clock.Now() }

// Schedule stores a new message. Times in the past are accepted and become due
// on the next delivery pass.
func (s *Service) Schedule(ctx context.Context, req Request) (storage.ScheduledMessage, error) {
	if err := s.validate.Struct(req); err != nil {
		return storage.ScheduledMessage{}, fmt.Errorf("%w: %s", ErrMalformedInput, describe(err))
	}
	msg := storage.ScheduledMessage{
		OwnerID:       req.OwnerID,
		DestinationID: req.DestinationID,
		SendAt:        storage.NormalizeTime(req.SendAt),
		Body:          req.Body,
	}
	if err := s.store.Insert(ctx, msg); err != nil {
		return storage.ScheduledMessage{}, err
	}
	s.log.Info("message scheduled",
		logx.Uint64("owner_id", msg.OwnerID),
		logx.Uint64("destination_id", msg.DestinationID),
		logx.Time("send_at", msg.SendAt),
	)
	s.publish(eventbus.TypeScheduleCreated, msg.Key())
	return msg, nil
}

// ListForOwner returns the owner's messages with send_at >= now, in store order.
func (s *Service) ListForOwner(ctx context.Context, ownerID uint64, now time.Time) ([]storage.ScheduledMessage, error) {
	all, err := s.store.ListUpcoming(ctx, now)
	if err != nil {
		return nil, err
	}
	out := make([]storage.ScheduledMessage, 0, len(all))
	for _, m := range all {
		if m.OwnerID == ownerID {
			out = append(out, m)
		}
	}
	return out, nil
}

// Cancel removes a pending message. It returns storage.ErrNotFound if the
// message was already delivered or never existed.
func (s *Service) Cancel(ctx context.Context, key storage.Key) error {
	if err := s.store.Delete(ctx, key); err != nil {
		return err
	}
	s.log.Info("message cancelled",
		logx.Uint64("owner_id", key.OwnerID),
		logx.Uint64("destination_id", key.DestinationID),
		logx.Time("send_at", key.SendAt),
	)
	s.publish(eventbus.TypeScheduleCancelled, key)
	return nil
}

func (s *Service) publish(typ string, k storage.Key) {
	s.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.MessageRef{
		OwnerID:       k.OwnerID,
		DestinationID: k.DestinationID,
		SendAt:        k.SendAt,
	}})
}

// ParseSendAt parses "yyyy/mm/dd HH:MM:SS" as UTC.
func ParseSendAt(raw string) (time.Time, error) {
	s := strings.Join(strings.Fields(raw), " ")
	t, err := time.ParseInLocation(InputLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q must look like 2024/01/31 18:30:00 (UTC)", ErrMalformedInput, raw)
	}
	return t, nil
}

// NormalizeBody turns literal "\n" sequences into line breaks, so multi-line
// messages can be typed on one line.
func NormalizeBody(body string) string {
	return strings.ReplaceAll(body, `\n`, "\n")
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, strings.ToLower(fe.Field())+" is required")
		case "max":
			parts = append(parts, fmt.Sprintf("%s is longer than %s characters", strings.ToLower(fe.Field()), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

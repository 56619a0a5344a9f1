package timer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/showclock/go/internal/controlapi"
	"github.com/mcdev12/showclock/go/internal/models"
	"github.com/mcdev12/showclock/go/internal/schedule"
	"github.com/rs/zerolog/log"
)

// TimerApp defines what the service layer needs from the timer application
type TimerApp interface {
	LoadCue(ctx context.Context, eventID uuid.UUID, itemID int64, actor models.Actor) (*models.TimerSnapshot, error)
	Start(ctx context.Context, eventID uuid.UUID, actor models.Actor) (*models.TimerSnapshot, error)
	Stop(ctx context.Context, eventID uuid.UUID, actor models.Actor) (*models.TimerSnapshot, error)
	Reset(ctx context.Context, eventID uuid.UUID, actor models.Actor) (*models.TimerSnapshot, error)
	AdjustDuration(ctx context.Context, eventID uuid.UUID, deltaSeconds int, actor models.Actor) (*models.TimerSnapshot, error)
	Snapshot(ctx context.Context, eventID uuid.UUID) (*models.TimerSnapshot, error)
	StartSubTimer(ctx context.Context, eventID uuid.UUID, itemID int64, durationSeconds int, actor models.Actor) (*models.SubCueTimerSnapshot, error)
	StopSubTimer(ctx context.Context, eventID uuid.UUID, itemID *int64, actor models.Actor) ([]models.SubCueTimerSnapshot, error)
	ListSubTimers(ctx context.Context, eventID uuid.UUID) ([]models.SubCueTimer, error)
}

// ScheduleLister lists the cues of one show day; day 0 lists every day.
type ScheduleLister interface {
	ListItems(ctx context.Context, eventID uuid.UUID, day int) ([]models.ScheduleItem, error)
}

// DefaultRequestTimeout bounds every control call.
const DefaultRequestTimeout = 5 * time.Second

// Service implements the TimerControlService connect interface
type Service struct {
	app            TimerApp
	schedule       ScheduleLister
	clock          clockwork.Clock
	requestTimeout time.Duration
}

// NewService creates a new timer control service. schedule may be nil, which
// leaves ListScheduleItems unimplemented. clock must be the app's clock.
func NewService(app TimerApp, schedule ScheduleLister, clock clockwork.Clock, requestTimeout time.Duration) *Service {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		app:            app,
		schedule:       schedule,
		clock:          clock,
		requestTimeout: requestTimeout,
	}
}

// Verify that Service implements the TimerControlServiceHandler interface
var _ controlapi.TimerControlServiceHandler = (*Service)(nil)

func (s *Service) LoadCue(ctx context.Context, req *connect.Request[controlapi.LoadCueRequest]) (*connect.Response[controlapi.TimerResponse], error) {
	eventID, err := parseEventID(req.Msg.EventID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	snap, err := s.app.LoadCue(ctx, eventID, req.Msg.ItemID, req.Msg.Actor)
	return timerResponse(snap, err)
}

func (s *Service) StartTimer(ctx context.Context, req *connect.Request[controlapi.EventRequest]) (*connect.Response[controlapi.TimerResponse], error) {
	eventID, err := parseEventID(req.Msg.EventID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	snap, err := s.app.Start(ctx, eventID, req.Msg.Actor)
	return timerResponse(snap, err)
}

func (s *Service) StopTimer(ctx context.Context, req *connect.Request[controlapi.EventRequest]) (*connect.Response[controlapi.TimerResponse], error) {
	eventID, err := parseEventID(req.Msg.EventID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	snap, err := s.app.Stop(ctx, eventID, req.Msg.Actor)
	return timerResponse(snap, err)
}

func (s *Service) ResetTimer(ctx context.Context, req *connect.Request[controlapi.EventRequest]) (*connect.Response[controlapi.TimerResponse], error) {
	eventID, err := parseEventID(req.Msg.EventID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	snap, err := s.app.Reset(ctx, eventID, req.Msg.Actor)
	return timerResponse(snap, err)
}

func (s *Service) AdjustDuration(ctx context.Context, req *connect.Request[controlapi.AdjustDurationRequest]) (*connect.Response[controlapi.TimerResponse], error) {
	eventID, err := parseEventID(req.Msg.EventID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	snap, err := s.app.AdjustDuration(ctx, eventID, req.Msg.DeltaSeconds, req.Msg.Actor)
	return timerResponse(snap, err)
}

func (s *Service) GetTimer(ctx context.Context, req *connect.Request[controlapi.EventRequest]) (*connect.Response[controlapi.TimerResponse], error) {
	eventID, err := parseEventID(req.Msg.EventID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	snap, err := s.app.Snapshot(ctx, eventID)
	return timerResponse(snap, err)
}

func (s *Service) StartSubTimer(ctx context.Context, req *connect.Request[controlapi.StartSubTimerRequest]) (*connect.Response[controlapi.SubTimerResponse], error) {
	eventID, err := parseEventID(req.Msg.EventID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	snap, err := s.app.StartSubTimer(ctx, eventID, req.Msg.ItemID, req.Msg.DurationSeconds, req.Msg.Actor)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&controlapi.SubTimerResponse{SubTimer: *snap}), nil
}

func (s *Service) StopSubTimer(ctx context.Context, req *connect.Request[controlapi.StopSubTimerRequest]) (*connect.Response[controlapi.SubTimersResponse], error) {
	eventID, err := parseEventID(req.Msg.EventID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	snaps, err := s.app.StopSubTimer(ctx, eventID, req.Msg.ItemID, req.Msg.Actor)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&controlapi.SubTimersResponse{SubTimers: snaps}), nil
}

func (s *Service) ListSubTimers(ctx context.Context, req *connect.Request[controlapi.EventRequest]) (*connect.Response[controlapi.SubTimersResponse], error) {
	eventID, err := parseEventID(req.Msg.EventID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	subs, err := s.app.ListSubTimers(ctx, eventID)
	if err != nil {
		return nil, toConnectError(err)
	}
	now := s.clock.Now()
	out := make([]models.SubCueTimerSnapshot, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub.Snapshot(now))
	}
	return connect.NewResponse(&controlapi.SubTimersResponse{SubTimers: out}), nil
}

func (s *Service) ListScheduleItems(ctx context.Context, req *connect.Request[controlapi.ScheduleRequest]) (*connect.Response[controlapi.ScheduleResponse], error) {
	eventID, err := parseEventID(req.Msg.EventID)
	if err != nil {
		return nil, err
	}
	if req.Msg.Day < 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid day %d", req.Msg.Day))
	}
	if s.schedule == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("schedule is not served here"))
	}
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	items, err := s.schedule.ListItems(ctx, eventID, req.Msg.Day)
	if err != nil {
		if errors.Is(err, schedule.ErrItemNotFound) {
			return nil, connect.NewError(connect.CodeNotFound, err)
		}
		return nil, toConnectError(fmt.Errorf("%w: %w", ErrStoreFailure, err))
	}
	return connect.NewResponse(&controlapi.ScheduleResponse{Items: items}), nil
}

func parseEventID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid event id %q: %w", raw, err))
	}
	return id, nil
}

func timerResponse(snap *models.TimerSnapshot, err error) (*connect.Response[controlapi.TimerResponse], error) {
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&controlapi.TimerResponse{Timer: *snap}), nil
}

// toConnectError maps coordinator errors onto connect codes.
func toConnectError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, ErrInvalidState):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, ErrStoreFailure):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	}
	log.Error().Err(err).Msg("unexpected timer control error")
	return connect.NewError(connect.CodeInternal, err)
}

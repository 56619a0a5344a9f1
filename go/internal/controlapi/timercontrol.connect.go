package controlapi

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// TimerControlServiceName is the fully-qualified name of the control service.
const TimerControlServiceName = "showclock.timer.v1.TimerControlService"

const (
	TimerControlServiceLoadCueProcedure        = "/showclock.timer.v1.TimerControlService/LoadCue"
	TimerControlServiceStartTimerProcedure     = "/showclock.timer.v1.TimerControlService/StartTimer"
	TimerControlServiceStopTimerProcedure      = "/showclock.timer.v1.TimerControlService/StopTimer"
	TimerControlServiceResetTimerProcedure     = "/showclock.timer.v1.TimerControlService/ResetTimer"
	TimerControlServiceAdjustDurationProcedure = "/showclock.timer.v1.TimerControlService/AdjustDuration"
	TimerControlServiceGetTimerProcedure       = "/showclock.timer.v1.TimerControlService/GetTimer"
	TimerControlServiceStartSubTimerProcedure  = "/showclock.timer.v1.TimerControlService/StartSubTimer"
	TimerControlServiceStopSubTimerProcedure   = "/showclock.timer.v1.TimerControlService/StopSubTimer"
	TimerControlServiceListSubTimersProcedure  = "/showclock.timer.v1.TimerControlService/ListSubTimers"

	TimerControlServiceListScheduleItemsProcedure = "/showclock.timer.v1.TimerControlService/ListScheduleItems"
)

// TimerControlServiceHandler is implemented by the server side.
type TimerControlServiceHandler interface {
	LoadCue(context.Context, *connect.Request[LoadCueRequest]) (*connect.Response[TimerResponse], error)
	StartTimer(context.Context, *connect.Request[EventRequest]) (*connect.Response[TimerResponse], error)
	StopTimer(context.Context, *connect.Request[EventRequest]) (*connect.Response[TimerResponse], error)
	ResetTimer(context.Context, *connect.Request[EventRequest]) (*connect.Response[TimerResponse], error)
	AdjustDuration(context.Context, *connect.Request[AdjustDurationRequest]) (*connect.Response[TimerResponse], error)
	GetTimer(context.Context, *connect.Request[EventRequest]) (*connect.Response[TimerResponse], error)
	StartSubTimer(context.Context, *connect.Request[StartSubTimerRequest]) (*connect.Response[SubTimerResponse], error)
	StopSubTimer(context.Context, *connect.Request[StopSubTimerRequest]) (*connect.Response[SubTimersResponse], error)
	ListSubTimers(context.Context, *connect.Request[EventRequest]) (*connect.Response[SubTimersResponse], error)
	ListScheduleItems(context.Context, *connect.Request[ScheduleRequest]) (*connect.Response[ScheduleResponse], error)
}

// NewTimerControlServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler.
func NewTimerControlServiceHandler(svc TimerControlServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)

	handlers := map[string]http.Handler{
		TimerControlServiceLoadCueProcedure:        connect.NewUnaryHandler(TimerControlServiceLoadCueProcedure, svc.LoadCue, opts...),
		TimerControlServiceStartTimerProcedure:     connect.NewUnaryHandler(TimerControlServiceStartTimerProcedure, svc.StartTimer, opts...),
		TimerControlServiceStopTimerProcedure:      connect.NewUnaryHandler(TimerControlServiceStopTimerProcedure, svc.StopTimer, opts...),
		TimerControlServiceResetTimerProcedure:     connect.NewUnaryHandler(TimerControlServiceResetTimerProcedure, svc.ResetTimer, opts...),
		TimerControlServiceAdjustDurationProcedure: connect.NewUnaryHandler(TimerControlServiceAdjustDurationProcedure, svc.AdjustDuration, opts...),
		TimerControlServiceGetTimerProcedure:       connect.NewUnaryHandler(TimerControlServiceGetTimerProcedure, svc.GetTimer, opts...),
		TimerControlServiceStartSubTimerProcedure:  connect.NewUnaryHandler(TimerControlServiceStartSubTimerProcedure, svc.StartSubTimer, opts...),
		TimerControlServiceStopSubTimerProcedure:   connect.NewUnaryHandler(TimerControlServiceStopSubTimerProcedure, svc.StopSubTimer, opts...),
		TimerControlServiceListSubTimersProcedure:  connect.NewUnaryHandler(TimerControlServiceListSubTimersProcedure, svc.ListSubTimers, opts...),

		TimerControlServiceListScheduleItemsProcedure: connect.NewUnaryHandler(TimerControlServiceListScheduleItemsProcedure, svc.ListScheduleItems, opts...),
	}

	return "/" + TimerControlServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := handlers[r.URL.Path]; ok {
			h.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

// TimerControlServiceClient is the client side used by panels and displays.
type TimerControlServiceClient interface {
	LoadCue(context.Context, *connect.Request[LoadCueRequest]) (*connect.Response[TimerResponse], error)
	StartTimer(context.Context, *connect.Request[EventRequest]) (*connect.Response[TimerResponse], error)
	StopTimer(context.Context, *connect.Request[EventRequest]) (*connect.Response[TimerResponse], error)
	ResetTimer(context.Context, *connect.Request[EventRequest]) (*connect.Response[TimerResponse], error)
	AdjustDuration(context.Context, *connect.Request[AdjustDurationRequest]) (*connect.Response[TimerResponse], error)
	GetTimer(context.Context, *connect.Request[EventRequest]) (*connect.Response[TimerResponse], error)
	StartSubTimer(context.Context, *connect.Request[StartSubTimerRequest]) (*connect.Response[SubTimerResponse], error)
	StopSubTimer(context.Context, *connect.Request[StopSubTimerRequest]) (*connect.Response[SubTimersResponse], error)
	ListSubTimers(context.Context, *connect.Request[EventRequest]) (*connect.Response[SubTimersResponse], error)
	ListScheduleItems(context.Context, *connect.Request[ScheduleRequest]) (*connect.Response[ScheduleResponse], error)
}

// NewTimerControlServiceClient constructs a client for the service at baseURL
// (for example http://localhost:8080).
func NewTimerControlServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) TimerControlServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(JSONCodec{})}, opts...)
	return &timerControlServiceClient{
		loadCue:        connect.NewClient[LoadCueRequest, TimerResponse](httpClient, baseURL+TimerControlServiceLoadCueProcedure, opts...),
		startTimer:     connect.NewClient[EventRequest, TimerResponse](httpClient, baseURL+TimerControlServiceStartTimerProcedure, opts...),
		stopTimer:      connect.NewClient[EventRequest, TimerResponse](httpClient, baseURL+TimerControlServiceStopTimerProcedure, opts...),
		resetTimer:     connect.NewClient[EventRequest, TimerResponse](httpClient, baseURL+TimerControlServiceResetTimerProcedure, opts...),
		adjustDuration: connect.NewClient[AdjustDurationRequest, TimerResponse](httpClient, baseURL+TimerControlServiceAdjustDurationProcedure, opts...),
		getTimer:       connect.NewClient[EventRequest, TimerResponse](httpClient, baseURL+TimerControlServiceGetTimerProcedure, opts...),
		startSubTimer:  connect.NewClient[StartSubTimerRequest, SubTimerResponse](httpClient, baseURL+TimerControlServiceStartSubTimerProcedure, opts...),
		stopSubTimer:   connect.NewClient[StopSubTimerRequest, SubTimersResponse](httpClient, baseURL+TimerControlServiceStopSubTimerProcedure, opts...),
		listSubTimers:  connect.NewClient[EventRequest, SubTimersResponse](httpClient, baseURL+TimerControlServiceListSubTimersProcedure, opts...),

		listScheduleItems: connect.NewClient[ScheduleRequest, ScheduleResponse](httpClient, baseURL+TimerControlServiceListScheduleItemsProcedure, opts...),
	}
}

type timerControlServiceClient struct {
	loadCue        *connect.Client[LoadCueRequest, TimerResponse]
	startTimer     *connect.Client[EventRequest, TimerResponse]
	stopTimer      *connect.Client[EventRequest, TimerResponse]
	resetTimer     *connect.Client[EventRequest, TimerResponse]
	adjustDuration *connect.Client[AdjustDurationRequest, TimerResponse]
	getTimer       *connect.Client[EventRequest, TimerResponse]
	startSubTimer  *connect.Client[StartSubTimerRequest, SubTimerResponse]
	stopSubTimer   *connect.Client[StopSubTimerRequest, SubTimersResponse]
	listSubTimers  *connect.Client[EventRequest, SubTimersResponse]

	listScheduleItems *connect.Client[ScheduleRequest, ScheduleResponse]
}

func (c *timerControlServiceClient) LoadCue(ctx context.Context, req *connect.Request[LoadCueRequest]) (*connect.Response[TimerResponse], error) {
	return c.loadCue.CallUnary(ctx, req)
}

func (c *timerControlServiceClient) StartTimer(ctx context.Context, req *connect.Request[EventRequest]) (*connect.Response[TimerResponse], error) {
	return c.startTimer.CallUnary(ctx, req)
}

func (c *timerControlServiceClient) StopTimer(ctx context.Context, req *connect.Request[EventRequest]) (*connect.Response[TimerResponse], error) {
	return c.stopTimer.CallUnary(ctx, req)
}

func (c *timerControlServiceClient) ResetTimer(ctx context.Context, req *connect.Request[EventRequest]) (*connect.Response[TimerResponse], error) {
	return c.resetTimer.CallUnary(ctx, req)
}

func (c *timerControlServiceClient) AdjustDuration(ctx context.Context, req *connect.Request[AdjustDurationRequest]) (*connect.Response[TimerResponse], error) {
	return c.adjustDuration.CallUnary(ctx, req)
}

func (c *timerControlServiceClient) GetTimer(ctx context.Context, req *connect.Request[EventRequest]) (*connect.Response[TimerResponse], error) {
	return c.getTimer.CallUnary(ctx, req)
}

func (c *timerControlServiceClient) StartSubTimer(ctx context.Context, req *connect.Request[StartSubTimerRequest]) (*connect.Response[SubTimerResponse], error) {
	return c.startSubTimer.CallUnary(ctx, req)
}

func (c *timerControlServiceClient) StopSubTimer(ctx context.Context, req *connect.Request[StopSubTimerRequest]) (*connect.Response[SubTimersResponse], error) {
	return c.stopSubTimer.CallUnary(ctx, req)
}

func (c *timerControlServiceClient) ListSubTimers(ctx context.Context, req *connect.Request[EventRequest]) (*connect.Response[SubTimersResponse], error) {
	return c.listSubTimers.CallUnary(ctx, req)
}

func (c *timerControlServiceClient) ListScheduleItems(ctx context.Context, req *connect.Request[ScheduleRequest]) (*connect.Response[ScheduleResponse], error) {
	return c.listScheduleItems.CallUnary(ctx, req)
}

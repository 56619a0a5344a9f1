package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/mcdev12/showclock/go/internal/controlapi"
	"github.com/mcdev12/showclock/go/internal/gateway"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(cfg *Config, services *Services) *http.Server {
	return &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: newHandler(services),
	}
}

func newHandler(services *Services) http.Handler {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	registerServices(mux, services)
	setupHealthCheck(mux, services)

	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}

func registerServices(mux *http.ServeMux, services *Services) {
	// Control API
	path, handler := controlapi.NewTimerControlServiceHandler(
		services.Control,
		connect.WithInterceptors(logInterceptor()),
	)
	mux.Handle(path, handler)

	// Fanout transports and stats
	gateway.NewHandler(services.Fanout).RegisterRoutes(mux)

	// Change log reads
	services.ChangeLog.RegisterRoutes(mux)
}

func setupHealthCheck(mux *http.ServeMux, services *Services) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})

	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		stats := services.Fanout.GetStats()
		info := map[string]any{
			"service":           "showclock",
			"connections":       stats.TotalConnections,
			"pending_changes":   services.Recorder.Pending(),
			"jetstream_enabled": services.Publisher != nil,
			"notify_enabled":    services.Listener != nil,
		}
		if services.OSC != nil {
			received, rejected := services.OSC.Counts()
			info["osc_received"] = received
			info["osc_rejected"] = rejected
		}
		if services.Publisher != nil {
			info["relay_dropped"] = services.Publisher.Dropped()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(info); err != nil {
			log.Error().Err(err).Msg("failed to write info response")
		}
	})
}

// logInterceptor logs every control call that fails, at a level matching
// whether the caller or the server is at fault.
func logInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			resp, err := next(ctx, req)
			if err != nil {
				level := zerolog.InfoLevel
				switch connect.CodeOf(err) {
				case connect.CodeUnavailable, connect.CodeInternal, connect.CodeUnknown:
					level = zerolog.ErrorLevel
				}
				log.WithLevel(level).
					Err(err).
					Str("procedure", req.Spec().Procedure).
					Msg("control call failed")
			}
			return resp, err
		}
	}
}

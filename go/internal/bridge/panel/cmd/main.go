package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/showclock/go/internal/bridge/panel"
	"github.com/mcdev12/showclock/go/internal/controlapi"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `commands: load <item-id> | cue <label> | cues | start | stop | reset | +1 | -1 | +5 | -5 | show | quit`

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	baseURL := flag.String("server", getEnv("SHOWCLOCK_URL", "http://localhost:8080"), "showclock server base URL")
	event := flag.String("event", os.Getenv("SHOWCLOCK_EVENT_ID"), "event id to control")
	day := flag.Int("day", 1, "schedule day to show")
	poll := flag.Duration("poll", panel.DefaultPollInterval, "poll interval (5s to 600s)")
	flag.Parse()

	eventID, err := uuid.Parse(*event)
	if err != nil {
		log.Fatal().Err(err).Str("event", *event).Msg("a valid -event is required")
	}

	client := controlapi.NewTimerControlServiceClient(&http.Client{Timeout: 10 * time.Second}, *baseURL)
	p := panel.New(client, panel.Config{EventID: eventID, Day: *day, PollInterval: *poll}, clockwork.NewRealClock())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := p.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("poller stopped")
		}
	}()

	log.Info().Dur("poll_interval", p.PollInterval()).Msg(usage)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handle(ctx, p, line); quit {
				return
			}
		}
	}
}

func handle(ctx context.Context, p *panel.Panel, line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	var err error
	switch cmd := fields[0]; cmd {
	case "quit", "exit":
		return true
	case "show":
	case "load":
		if len(fields) != 2 {
			err = fmt.Errorf("usage: load <item-id>")
			break
		}
		var id int64
		id, err = strconv.ParseInt(fields[1], 10, 64)
		if err == nil {
			err = p.LoadCue(ctx, id)
		}
	case "cue":
		if len(fields) != 2 {
			err = fmt.Errorf("usage: cue <label>")
			break
		}
		err = p.LoadCueLabel(ctx, fields[1])
	case "cues":
		for _, item := range p.Items() {
			fmt.Printf("%-6s %-8d %02d:%02d:%02d  %s\n", item.Cue, item.ID,
				item.DurationHours, item.DurationMinutes, item.DurationSeconds, item.Segment)
		}
		return false
	case "start":
		err = p.Start(ctx)
	case "stop":
		err = p.Stop(ctx)
	case "reset":
		err = p.Reset(ctx)
	case "+1", "-1", "+5", "-5":
		minutes, _ := strconv.Atoi(cmd)
		err = p.AdjustMinutes(ctx, minutes)
	default:
		err = fmt.Errorf("unknown command %q; %s", cmd, usage)
	}
	if err != nil {
		log.Warn().Err(err).Msg("command failed")
		return false
	}

	printVariables(p.Variables())
	return false
}

func printVariables(vars map[string]string) {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-16s %s\n", k, vars[k])
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

package bridge

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrValidation means a recognized command arrived with a bad shape.
	ErrValidation = errors.New("invalid command")
	// ErrUnknownCommand means the address matched no route.
	ErrUnknownCommand = errors.New("unknown command")
)

// Command is one decoded control action. The set is closed: only the types
// in this file implement it.
type Command interface {
	command()
}

// LoadCue loads the cue with the given label in the selected day.
type LoadCue struct {
	Label string
}

// LoadItem loads a schedule item by id.
type LoadItem struct {
	ItemID int64
}

type StartTimer struct{}

type StopTimer struct{}

type ResetTimer struct{}

// AdjustDuration changes the loaded duration by DeltaSeconds.
type AdjustDuration struct {
	DeltaSeconds int
}

// StartSubTimer starts the sub-timer of the cue with the given label.
type StartSubTimer struct {
	Label string
}

// StopSubTimer stops one sub-timer, or every running one when Label is empty.
type StopSubTimer struct {
	Label string
}

// SetEvent selects the event later commands apply to.
type SetEvent struct {
	EventID uuid.UUID
}

// SetDay selects the schedule day cue labels are resolved in.
type SetDay struct {
	Day int
}

func (LoadCue) command()        {}
func (LoadItem) command()       {}
func (StartTimer) command()     {}
func (StopTimer) command()      {}
func (ResetTimer) command()     {}
func (AdjustDuration) command() {}
func (StartSubTimer) command()  {}
func (StopSubTimer) command()   {}
func (SetEvent) command()       {}
func (SetDay) command()         {}

// ParseMessage decodes an OSC address and its arguments into a Command.
//
// Routes:
//
//	/set-event <uuid>
//	/set-day <n>
//	/cue/<label>/load, /cue/load <label>
//	/item/<id>/load
//	/timer/start, /timer/stop, /timer/reset
//	/timer/adjust <±seconds>
//	/timer/adjust/<±minutes>, /timer/adjust/plus/<n>, /timer/adjust/minus/<n>
//	/subtimer/cue/<label>/start, /subtimer/cue/<label>/stop
//	/subtimer/stop
func ParseMessage(address string, args []interface{}) (Command, error) {
	parts := strings.Split(strings.Trim(address, "/"), "/")

	switch parts[0] {
	case "set-event":
		raw, err := argString(args, 0)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", address, err)
		}
		eventID, err := uuid.Parse(raw)
		if err != nil || eventID == uuid.Nil {
			return nil, fmt.Errorf("%s: %w: event id %q", address, ErrValidation, raw)
		}
		return SetEvent{EventID: eventID}, nil

	case "set-day":
		day, err := argInt(args, 0)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", address, err)
		}
		if day < 1 {
			return nil, fmt.Errorf("%s: %w: day %d", address, ErrValidation, day)
		}
		return SetDay{Day: day}, nil

	case "cue":
		switch {
		case len(parts) == 3 && parts[2] == "load":
			return LoadCue{Label: parts[1]}, nil
		case len(parts) == 2 && parts[1] == "load":
			label, err := argString(args, 0)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", address, err)
			}
			return LoadCue{Label: label}, nil
		}

	case "item":
		if len(parts) == 3 && parts[2] == "load" {
			id, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("%s: %w: item id %q", address, ErrValidation, parts[1])
			}
			return LoadItem{ItemID: id}, nil
		}

	case "timer":
		if len(parts) < 2 {
			break
		}
		switch parts[1] {
		case "start":
			if len(parts) == 2 {
				return StartTimer{}, nil
			}
		case "stop":
			if len(parts) == 2 {
				return StopTimer{}, nil
			}
		case "reset":
			if len(parts) == 2 {
				return ResetTimer{}, nil
			}
		case "adjust":
			return parseAdjust(address, parts[2:], args)
		}

	case "subtimer":
		if len(parts) == 2 && parts[1] == "stop" {
			return StopSubTimer{}, nil
		}
		if len(parts) == 4 && parts[1] == "cue" && parts[2] != "" {
			switch parts[3] {
			case "start":
				return StartSubTimer{Label: parts[2]}, nil
			case "stop":
				return StopSubTimer{Label: parts[2]}, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, address)
}

func parseAdjust(address string, rest []string, args []interface{}) (Command, error) {
	switch len(rest) {
	case 0:
		seconds, err := argInt(args, 0)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", address, err)
		}
		return adjust(address, seconds)
	case 1:
		minutes, err := strconv.Atoi(rest[0])
		if err != nil {
			return nil, fmt.Errorf("%s: %w: minutes %q", address, ErrValidation, rest[0])
		}
		return adjust(address, minutes*60)
	case 2:
		minutes, err := strconv.Atoi(rest[1])
		if err != nil || minutes < 0 {
			return nil, fmt.Errorf("%s: %w: minutes %q", address, ErrValidation, rest[1])
		}
		switch rest[0] {
		case "plus":
			return adjust(address, minutes*60)
		case "minus":
			return adjust(address, -minutes*60)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, address)
}

func adjust(address string, seconds int) (Command, error) {
	if seconds == 0 {
		return nil, fmt.Errorf("%s: %w: zero adjustment", address, ErrValidation)
	}
	return AdjustDuration{DeltaSeconds: seconds}, nil
}

func argString(args []interface{}, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%w: missing argument %d", ErrValidation, i)
	}
	switch v := args[i].(type) {
	case string:
		if v = strings.TrimSpace(v); v != "" {
			return v, nil
		}
	case int32, int64:
		return fmt.Sprint(v), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("%w: argument %d is not a label", ErrValidation, i)
}

func argInt(args []interface{}, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("%w: missing argument %d", ErrValidation, i)
	}
	switch v := args[i].(type) {
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float32:
		if f := float64(v); f == math.Trunc(f) {
			return int(f), nil
		}
	case float64:
		if v == math.Trunc(v) {
			return int(v), nil
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: argument %d is not an integer", ErrValidation, i)
}

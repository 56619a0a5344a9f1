package bridge

import (
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"
)

func TestParseMessage(t *testing.T) {
	eventID := uuid.New()

	tests := []struct {
		name    string
		address string
		args    []interface{}
		want    Command
	}{
		{"set event", "/set-event", []interface{}{eventID.String()}, SetEvent{EventID: eventID}},
		{"set day int", "/set-day", []interface{}{int32(2)}, SetDay{Day: 2}},
		{"set day string", "/set-day", []interface{}{"3"}, SetDay{Day: 3}},
		{"cue in path", "/cue/1.1/load", nil, LoadCue{Label: "1.1"}},
		{"cue in arg", "/cue/load", []interface{}{"CUE1"}, LoadCue{Label: "CUE1"}},
		{"cue numeric arg", "/cue/load", []interface{}{float32(2)}, LoadCue{Label: "2"}},
		{"item", "/item/42/load", nil, LoadItem{ItemID: 42}},
		{"start", "/timer/start", nil, StartTimer{}},
		{"stop", "/timer/stop", nil, StopTimer{}},
		{"reset", "/timer/reset", nil, ResetTimer{}},
		{"trailing slash", "/timer/start/", nil, StartTimer{}},
		{"adjust seconds", "/timer/adjust", []interface{}{int32(-30)}, AdjustDuration{DeltaSeconds: -30}},
		{"adjust float seconds", "/timer/adjust", []interface{}{float64(90)}, AdjustDuration{DeltaSeconds: 90}},
		{"adjust plus one", "/timer/adjust/+1", nil, AdjustDuration{DeltaSeconds: 60}},
		{"adjust minus five", "/timer/adjust/-5", nil, AdjustDuration{DeltaSeconds: -300}},
		{"adjust plus word", "/timer/adjust/plus/5", nil, AdjustDuration{DeltaSeconds: 300}},
		{"adjust minus word", "/timer/adjust/minus/1", nil, AdjustDuration{DeltaSeconds: -60}},
		{"subtimer start", "/subtimer/cue/3/start", nil, StartSubTimer{Label: "3"}},
		{"subtimer stop", "/subtimer/cue/3/stop", nil, StopSubTimer{Label: "3"}},
		{"subtimer stop all", "/subtimer/stop", nil, StopSubTimer{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMessage(tt.address, tt.args)
			if err != nil {
				t.Fatalf("ParseMessage(%q) error = %v", tt.address, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ParseMessage(%q) = %#v, want %#v", tt.address, got, tt.want)
			}
		})
	}
}

func TestParseMessageRejects(t *testing.T) {
	tests := []struct {
		name    string
		address string
		args    []interface{}
		want    error
	}{
		{"unknown root", "/lights/on", nil, ErrUnknownCommand},
		{"list events", "/list-events", nil, ErrUnknownCommand},
		{"timer without action", "/timer", nil, ErrUnknownCommand},
		{"timer start extra", "/timer/start/now", nil, ErrUnknownCommand},
		{"subtimer bad action", "/subtimer/cue/3/pause", nil, ErrUnknownCommand},
		{"adjust bad direction", "/timer/adjust/sideways/1", nil, ErrUnknownCommand},
		{"set event missing", "/set-event", nil, ErrValidation},
		{"set event bad uuid", "/set-event", []interface{}{"abc"}, ErrValidation},
		{"set event nil uuid", "/set-event", []interface{}{uuid.Nil.String()}, ErrValidation},
		{"set day zero", "/set-day", []interface{}{int32(0)}, ErrValidation},
		{"set day fraction", "/set-day", []interface{}{float32(1.5)}, ErrValidation},
		{"cue load no label", "/cue/load", nil, ErrValidation},
		{"cue load blank label", "/cue/load", []interface{}{"  "}, ErrValidation},
		{"item not numeric", "/item/abc/load", nil, ErrValidation},
		{"item negative", "/item/-4/load", nil, ErrValidation},
		{"adjust no arg", "/timer/adjust", nil, ErrValidation},
		{"adjust zero", "/timer/adjust", []interface{}{int32(0)}, ErrValidation},
		{"adjust bad minutes", "/timer/adjust/plus/x", nil, ErrValidation},
		{"adjust negative word", "/timer/adjust/minus/-1", nil, ErrValidation},
		{"adjust bool arg", "/timer/adjust", []interface{}{true}, ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseMessage(tt.address, tt.args)
			if !errors.Is(err, tt.want) {
				t.Fatalf("ParseMessage(%q) = %#v, %v; want %v", tt.address, cmd, err, tt.want)
			}
		})
	}
}

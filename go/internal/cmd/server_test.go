package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/showclock/go/internal/changelog"
	"github.com/mcdev12/showclock/go/internal/gateway"
	"github.com/mcdev12/showclock/go/internal/timer"
)

func testServices() *Services {
	clock := clockwork.NewFakeClock()
	return &Services{
		Control:   timer.NewService(nil, nil, clock, 0),
		Recorder:  changelog.NewRecorder(nil, changelog.DefaultConfig(), clock),
		ChangeLog: changelog.NewHandler(nil),
		Fanout:    gateway.NewConnectionManager(gateway.DefaultConfig(), nil, clock),
	}
}

func TestHealthAndInfo(t *testing.T) {
	srv := httptest.NewServer(newHandler(testServices()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Fatalf("health = %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(srv.URL + "/info")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info["service"] != "showclock" || info["connections"] != float64(0) {
		t.Fatalf("info = %v", info)
	}
	if _, ok := info["osc_received"]; ok {
		t.Fatal("osc counters reported with OSC disabled")
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := httptest.NewServer(newHandler(testServices()))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/showclock.timer.v1.TimerControlService/StartTimer", nil)
	req.Header.Set("Origin", "http://console.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin = %q", got)
	}
}

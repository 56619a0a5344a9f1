package migrations

import (
	"reflect"
	"strings"
	"testing"
	"testing/fstest"
)

func TestListFiles(t *testing.T) {
	f := fstest.MapFS{
		"README":               {Data: []byte("ignore")},
		"0002_change_log.sql":  {Data: []byte("--")},
		"0001_timers.sql":      {Data: []byte("--")},
		"old/0003_dropped.sql": {Data: []byte("--")},
	}

	got, err := listFiles(f)
	if err != nil {
		t.Fatalf("listFiles: %v", err)
	}
	want := []string{"0001_timers.sql", "0002_change_log.sql"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	files, err := listFiles(Files)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no migrations embedded")
	}

	var all strings.Builder
	for _, f := range files {
		body, err := Files.ReadFile(f)
		if err != nil {
			t.Fatal(err)
		}
		all.Write(body)
	}
	for _, table := range []string{"active_timers", "sub_cue_timers", "change_log", "change_log_batches", "run_of_show_data"} {
		if !strings.Contains(all.String(), "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("no migration creates %s", table)
		}
	}
	if !strings.Contains(all.String(), "pg_notify('showclock_relay'") {
		t.Error("relay trigger missing")
	}
}

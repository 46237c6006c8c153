package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "relaybot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestOpenRequiresPath(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		if _, err := Open(Config{Driver: driver}, logx.Nop()); err == nil {
			t.Fatalf("Open(%s) without path: expected error", driver)
		}
	}
}

func record(i int, ok bool) DeliveryRecord {
	r := DeliveryRecord{
		At:           time.Date(2026, 1, 2, 3, 4, i, 0, time.UTC),
		EnvelopeID:   fmt.Sprintf("env-%d", i),
		Kind:         "text",
		SourceChatID: 42,
		SenderID:     7,
		DestChatID:   -100,
		OK:           ok,
		QueuedMS:     int64(i * 10),
		TookMS:       3,
	}
	if !ok {
		r.Error = "boom"
	}
	return r
}

func TestStores(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "sub", "journal.db")
			st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			for i := 0; i < 3; i++ {
				if err := st.AppendDelivery(ctx, record(i, i != 1)); err != nil {
					t.Fatalf("AppendDelivery(%d): %v", i, err)
				}
			}

			got, err := st.RecentDeliveries(ctx, 2)
			if err != nil {
				t.Fatalf("RecentDeliveries: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("len = %d, want 2", len(got))
			}
			if got[0].EnvelopeID != "env-2" || got[1].EnvelopeID != "env-1" {
				t.Fatalf("order = %s,%s; want env-2,env-1", got[0].EnvelopeID, got[1].EnvelopeID)
			}
			if got[1].OK || got[1].Error != "boom" {
				t.Fatalf("failed record = %+v", got[1])
			}
			if !got[0].At.Equal(record(2, true).At) {
				t.Fatalf("At = %v, want %v", got[0].At, record(2, true).At)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			// Records survive a reopen.
			st, err = Open(Config{Driver: driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer st.Close()
			got, err = st.RecentDeliveries(ctx, 0)
			if err != nil {
				t.Fatalf("RecentDeliveries after reopen: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("len after reopen = %d, want 3", len(got))
			}
		})
	}
}

func TestFileStoreClosed(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "j.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = st.Close()
	if err := st.AppendDelivery(context.Background(), record(0, true)); err == nil {
		t.Fatalf("append after close: expected error")
	}
}

func TestFileStoreRecentWindow(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "j.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	for i := 0; i < recentWindow+10; i++ {
		if err := st.AppendDelivery(context.Background(), record(i%60, true)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, _ := st.RecentDeliveries(context.Background(), 0)
	if len(got) != recentWindow {
		t.Fatalf("len = %d, want %d", len(got), recentWindow)
	}
}

func TestSQLitePrune(t *testing.T) {
	raw, err := openSQLite(Config{Path: filepath.Join(t.TempDir(), "j.db"), MaxRecords: 5}, logx.Nop())
	if err != nil {
		t.Fatalf("openSQLite: %v", err)
	}
	st := raw.(*sqliteStore)
	defer st.Close()
	st.pruneEvery = 4
	for i := 0; i < 8; i++ {
		if err := st.AppendDelivery(context.Background(), record(i, true)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, _ := st.RecentDeliveries(context.Background(), 100)
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	if got[0].EnvelopeID != "env-7" {
		t.Fatalf("newest = %s, want env-7", got[0].EnvelopeID)
	}
}

func TestNilSQLiteDisabled(t *testing.T) {
	var st *sqliteStore
	if err := st.AppendDelivery(context.Background(), DeliveryRecord{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

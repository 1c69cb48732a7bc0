package instagram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		message string
		check   func(error) bool
	}{
		{"ok status", "ok", "", func(err error) bool { return err == nil }},
		{"empty status", "", "", func(err error) bool { return err == nil }},
		{"challenge", "fail", "challenge_required", func(err error) bool {
			return errors.Is(err, ErrChallengeRequired)
		}},
		{"checkpoint", "fail", "checkpoint_challenge_required", func(err error) bool {
			return errors.Is(err, ErrChallengeRequired)
		}},
		{"bad password", "fail", "bad_password", IsFatal},
		{"rate limit", "fail", "rate_limit_error", IsFatal},
		{"feedback required", "fail", "feedback_required", IsFatal},
		{"generic failure", "fail", "something_else", func(err error) bool {
			return err != nil && !IsFatal(err) && !errors.Is(err, ErrChallengeRequired)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.status, tt.message)
			if !tt.check(err) {
				t.Fatalf("unexpected classification: %v", err)
			}
		})
	}
}

func TestFatalErrorUnwrapping(t *testing.T) {
	var err error = fmt.Errorf("login: %w", &FatalError{Reason: "spam"})
	if !IsFatal(err) {
		t.Fatal("wrapped fatal error not detected")
	}
	if IsFatal(errors.New("transient")) {
		t.Fatal("plain error detected as fatal")
	}
}

func igTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("bot", "secret", WithBaseURL(srv.URL))
	return c, srv
}

func TestThreadsParsesInbox(t *testing.T) {
	c, _ := igTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/direct_v2/inbox/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{
			"inbox": {"threads": [
				{"thread_id": "t1", "newest_cursor": "c1",
				 "users": [{"pk": 999, "username": "nina_x", "full_name": "Nina"}]},
				{"thread_id": "t2",
				 "users": [{"pk": 1}, {"pk": 2}]}
			]},
			"status": "ok"
		}`)
	})

	threads, err := c.Threads(context.Background())
	if err != nil {
		t.Fatalf("threads: %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(threads))
	}
	if threads[0].ID != "t1" || threads[0].UserID != "999" || threads[0].UserName != "Nina" {
		t.Fatalf("unexpected thread: %+v", threads[0])
	}
	if threads[0].IsGroup {
		t.Fatal("one-on-one thread marked as group")
	}
	if !threads[1].IsGroup {
		t.Fatal("multi-user thread not marked as group")
	}
}

func TestThreadsFallsBackToUsername(t *testing.T) {
	c, _ := igTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"inbox": {"threads": [
			{"thread_id": "t1", "users": [{"pk": 7, "username": "nina_x", "full_name": ""}]}
		]}, "status": "ok"}`)
	})

	threads, err := c.Threads(context.Background())
	if err != nil {
		t.Fatalf("threads: %v", err)
	}
	if threads[0].UserName != "nina_x" {
		t.Fatalf("expected username fallback, got %q", threads[0].UserName)
	}
}

func TestThreadItemsFiltersAndReverses(t *testing.T) {
	c, _ := igTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		// API order is newest first.
		fmt.Fprint(w, `{"thread": {"items": [
			{"item_id": "i3", "user_id": 9, "item_type": "text", "text": "third", "timestamp": 300},
			{"item_id": "i2", "user_id": 9, "item_type": "media", "timestamp": 200},
			{"item_id": "i1", "user_id": 9, "item_type": "text", "text": "first", "timestamp": 100}
		]}, "status": "ok"}`)
	})

	items, err := c.ThreadItems(context.Background(), "t1", "")
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("non-text items not filtered: %+v", items)
	}
	if items[0].Text != "first" || items[1].Text != "third" {
		t.Fatalf("items not chronological: %+v", items)
	}
	if items[0].Timestamp != 100 {
		t.Fatalf("timestamp lost: %+v", items[0])
	}
}

func TestAPIErrorClassifiedFromErrorBody(t *testing.T) {
	c, _ := igTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"status": "fail", "message": "feedback_required"}`)
	})

	_, err := c.Threads(context.Background())
	if !IsFatal(err) {
		t.Fatalf("expected fatal classification, got %v", err)
	}
}

func TestSendTextPostsBroadcast(t *testing.T) {
	var gotPath, gotText, gotThreadIDs string
	c, _ := igTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err == nil {
			gotText = r.PostFormValue("text")
			gotThreadIDs = r.PostFormValue("thread_ids")
		}
		fmt.Fprint(w, `{"status": "ok"}`)
	})

	if err := c.SendText(context.Background(), "t1", "你好"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/api/v1/direct_v2/threads/broadcast/text/" {
		t.Fatalf("wrong endpoint: %s", gotPath)
	}
	if gotText != "你好" || gotThreadIDs != "[t1]" {
		t.Fatalf("wrong payload: text=%q threads=%q", gotText, gotThreadIDs)
	}
}

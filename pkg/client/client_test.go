package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gymbell/gymbell/pkg/domain"
)

func TestVAPIDPublicKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/push/vapid-public-key" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "not authenticated"}) //nolint:errcheck
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "publicKey": "BEXAMPLEKEY"}) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL, "test-token")
	key, err := c.VAPIDPublicKey(context.Background())
	if err != nil {
		t.Fatalf("VAPIDPublicKey() error: %v", err)
	}
	if key != "BEXAMPLEKEY" {
		t.Errorf("key = %q, want %q", key, "BEXAMPLEKEY")
	}
}

func TestVAPIDPublicKey_Unsuccessful(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "push disabled"}) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	_, err := c.VAPIDPublicKey(context.Background())
	if err == nil {
		t.Fatal("expected error for success=false")
	}
	if got := MessageOf(err); got != "push disabled" {
		t.Errorf("MessageOf() = %q, want %q", got, "push disabled")
	}
}

func TestVAPIDPublicKey_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "not authenticated"}) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL, "bad-token")
	_, err := c.VAPIDPublicKey(context.Background())
	if err == nil {
		t.Fatal("expected error for unauthorized request")
	}
	if !IsStatus(err, http.StatusUnauthorized) {
		t.Errorf("IsStatus(err, 401) = false for %v", err)
	}
	if got := err.Error(); !strings.Contains(got, "HTTP 401") {
		t.Errorf("error = %q, want it to contain 'HTTP 401'", got)
	}
}

func TestSubscribePush(t *testing.T) {
	var got domain.PushSubscription
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/push/subscribe" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true}) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	err := c.SubscribePush(context.Background(), domain.PushSubscription{
		Endpoint:   "https://push.example/ep1",
		Keys:       domain.PushKeys{P256dh: "pk", Auth: "au"},
		DeviceInfo: &domain.DeviceInfo{Platform: "linux/amd64"},
	})
	if err != nil {
		t.Fatalf("SubscribePush() error: %v", err)
	}
	if got.Endpoint != "https://push.example/ep1" {
		t.Errorf("Endpoint = %q, want %q", got.Endpoint, "https://push.example/ep1")
	}
	if got.Keys.P256dh != "pk" || got.Keys.Auth != "au" {
		t.Errorf("Keys = %+v, want p256dh=pk auth=au", got.Keys)
	}
	if got.DeviceInfo == nil || got.DeviceInfo.Platform != "linux/amd64" {
		t.Errorf("DeviceInfo = %+v, want platform linux/amd64", got.DeviceInfo)
	}
}

func TestSubscribePush_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "invalid subscription"}) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	err := c.SubscribePush(context.Background(), domain.PushSubscription{Endpoint: "x"})
	if err == nil {
		t.Fatal("expected error for rejected subscription")
	}
	if got := MessageOf(err); got != "invalid subscription" {
		t.Errorf("MessageOf() = %q, want %q", got, "invalid subscription")
	}
}

func TestUnsubscribePush(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/push/unsubscribe" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&body)                      //nolint:errcheck
		json.NewEncoder(w).Encode(map[string]any{"success": true}) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	if err := c.UnsubscribePush(context.Background(), "https://push.example/ep1"); err != nil {
		t.Fatalf("UnsubscribePush() error: %v", err)
	}
	if body["endpoint"] != "https://push.example/ep1" {
		t.Errorf("endpoint = %q, want %q", body["endpoint"], "https://push.example/ep1")
	}
}

func TestListNotifications(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notifications" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("page") != "1" || r.URL.Query().Get("limit") != "50" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"success":true,"data":{"notifications":[` + //nolint:errcheck
			`{"id":"n2","title":"Class booked","type":"appointment","status":"sent","createdAt":"2025-05-02T10:00:00Z"},` +
			`{"id":"n1","title":"Payment received","type":"payment","status":"read","createdAt":"2025-05-01T10:00:00Z","readAt":"2025-05-01T11:00:00Z"}` +
			`]}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	ns, err := c.ListNotifications(context.Background(), 1, 50)
	if err != nil {
		t.Fatalf("ListNotifications() error: %v", err)
	}
	if len(ns) != 2 {
		t.Fatalf("got %d notifications, want 2", len(ns))
	}
	if ns[0].ID != "n2" || ns[0].Type != domain.TypeAppointment {
		t.Errorf("ns[0] = %+v, want id n2 type appointment", ns[0])
	}
	if ns[1].ReadAt == nil {
		t.Error("ns[1].ReadAt = nil, want timestamp")
	}
}

func TestListNotifications_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"success":true,"data":{}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	ns, err := c.ListNotifications(context.Background(), 1, 50)
	if err != nil {
		t.Fatalf("ListNotifications() error: %v", err)
	}
	if ns == nil || len(ns) != 0 {
		t.Errorf("got %v, want empty non-nil slice", ns)
	}
}

func TestMarkRead(t *testing.T) {
	var body struct {
		IDs []string `json:"ids"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notifications/mark-read" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&body)                      //nolint:errcheck
		json.NewEncoder(w).Encode(map[string]any{"success": true}) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	if err := c.MarkRead(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatalf("MarkRead() error: %v", err)
	}
	if len(body.IDs) != 2 || body.IDs[0] != "a" {
		t.Errorf("ids = %v, want [a b]", body.IDs)
	}
}

func TestUnreadCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notifications/unread-count" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"success":true,"data":{"count":7}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	n, err := c.UnreadCount(context.Background())
	if err != nil {
		t.Fatalf("UnreadCount() error: %v", err)
	}
	if n != 7 {
		t.Errorf("count = %d, want 7", n)
	}
}

func TestHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"message":"boom"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	err := c.SendTestPush(context.Background())
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if got := err.Error(); !strings.Contains(got, "boom") {
		t.Errorf("error = %q, want it to contain 'boom'", got)
	}
	if got := MessageOf(err); got != "boom" {
		t.Errorf("MessageOf() = %q, want %q", got, "boom")
	}
}

func TestHTTPError_NonJSONBody(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"html gateway page", http.StatusBadGateway, "<html><head><title>502 Bad Gateway</title></head>\n<body><h1>502 Bad Gateway</h1></body></html>"},
		{"plain text", http.StatusInternalServerError, "upstream timed out"},
		{"json without message", http.StatusServiceUnavailable, `{"success":false}`},
		{"empty", http.StatusBadGateway, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body)) //nolint:errcheck
			}))
			defer srv.Close()

			c := New(srv.URL, "tok")
			_, err := c.VAPIDPublicKey(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if !IsStatus(err, tt.status) {
				t.Errorf("IsStatus(err, %d) = false for %v", tt.status, err)
			}
			if got := MessageOf(err); got != "" {
				t.Errorf("MessageOf() = %q, want empty for a non-JSON body", got)
			}
			if got := err.Error(); strings.Contains(got, "\n") {
				t.Errorf("error = %q, want a single line", got)
			}
		})
	}
}

func TestHTTPError_StatusTextFallback(t *testing.T) {
	err := &HTTPError{StatusCode: http.StatusBadGateway}
	if got, want := err.Error(), "HTTP 502: Bad Gateway"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestMessageOf_TransportError(t *testing.T) {
	c := New("http://127.0.0.1:1", "tok", WithTimeout(time.Second))
	err := c.MarkAllRead(context.Background())
	if err == nil {
		t.Fatal("expected error for unreachable backend")
	}
	if got := MessageOf(err); got != "" {
		t.Errorf("MessageOf() = %q, want empty for transport error", got)
	}
}

func TestDoRequest_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(5 * time.Second) // slow server
		w.Write([]byte(`{"success":true,"data":{"count":0}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := c.UnreadCount(ctx)
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
}

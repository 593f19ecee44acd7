package resend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(serverURL string) *Client {
	return NewClient(Config{APIKey: "re_test_key", BaseURL: serverURL})
}

func TestCreateBroadcast(t *testing.T) {
	var gotParams CreateBroadcastParams

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/broadcasts" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer re_test_key" {
			t.Error("missing Authorization header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotParams); err != nil {
			t.Fatalf("decoding request body: %v", err)
		}
		json.NewEncoder(w).Encode(Broadcast{ID: "bc_123"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	id, err := client.CreateBroadcast(context.Background(), CreateBroadcastParams{
		Name:      "Broadcast - January Sale",
		SegmentID: "a355a0bd-32fa-4ef4-b6d5-7341f702d35b",
		From:      "Example News <news@example.com>",
		Subject:   "January Sale",
		HTML:      "<html>sale</html>",
	})
	if err != nil {
		t.Fatalf("CreateBroadcast failed: %v", err)
	}

	if id != "bc_123" {
		t.Errorf("expected broadcast id bc_123, got %s", id)
	}
	if gotParams.SegmentID != "a355a0bd-32fa-4ef4-b6d5-7341f702d35b" {
		t.Errorf("unexpected segment_id: %s", gotParams.SegmentID)
	}
	if gotParams.Subject != "January Sale" {
		t.Errorf("unexpected subject: %s", gotParams.Subject)
	}
}

func TestCreateBroadcastNoID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.CreateBroadcast(context.Background(), CreateBroadcastParams{})
	if err == nil {
		t.Fatal("expected error when provider returns no broadcast id")
	}
}

func TestCreateBroadcastAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(apiError{Name: "validation_error", Message: "segment not found"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.CreateBroadcast(context.Background(), CreateBroadcastParams{SegmentID: "bogus"})
	if err == nil {
		t.Fatal("expected API error")
	}
	if got := err.Error(); got != "API error (status 422): segment not found" {
		t.Errorf("unexpected error message: %s", got)
	}
}

func TestSendBroadcast(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/broadcasts/bc_123/send" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(Broadcast{ID: "bc_123"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	id, err := client.SendBroadcast(context.Background(), "bc_123")
	if err != nil {
		t.Fatalf("SendBroadcast failed: %v", err)
	}
	if id != "bc_123" {
		t.Errorf("expected confirmation id bc_123, got %s", id)
	}
}

func TestSendBroadcastFailsIndependently(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(apiError{Name: "forbidden", Message: "sending disabled"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.SendBroadcast(context.Background(), "bc_123")
	if err == nil {
		t.Fatal("expected send-phase error")
	}
}

func TestGetSegmentAndListContacts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/segments/seg_1":
			json.NewEncoder(w).Encode(Segment{ID: "seg_1", Name: "Weekly readers"})
		case "/segments/seg_1/contacts":
			if r.URL.Query().Get("limit") != "3" {
				t.Errorf("expected limit=3, got %s", r.URL.Query().Get("limit"))
			}
			json.NewEncoder(w).Encode(contactListResponse{Data: []Contact{
				{ID: "c1", Email: "alice@example.com"},
				{ID: "c2", Email: "bob@example.com"},
			}})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	seg, err := client.GetSegment(context.Background(), "seg_1")
	if err != nil {
		t.Fatalf("GetSegment failed: %v", err)
	}
	if seg.Name != "Weekly readers" {
		t.Errorf("expected segment name 'Weekly readers', got %s", seg.Name)
	}

	contacts, err := client.ListContacts(context.Background(), "seg_1", 3)
	if err != nil {
		t.Fatalf("ListContacts failed: %v", err)
	}
	if len(contacts) != 2 {
		t.Errorf("expected 2 contacts, got %d", len(contacts))
	}
}

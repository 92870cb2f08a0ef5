package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, token string) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{BaseURL: server.URL, Token: token, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func mustSignedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "student-1",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	for _, baseURL := range []string{"", "  ", "not a url", "/relative"} {
		if _, err := NewClient(Config{BaseURL: baseURL}); !errors.Is(err, ErrInvalidClientConfig) {
			t.Fatalf("expected config error for %q, got %v", baseURL, err)
		}
	}
}

func TestIsAuthenticated(t *testing.T) {
	now := time.Unix(1700000000, 0)
	client, err := NewClient(Config{BaseURL: "http://example.test", Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if client.IsAuthenticated() {
		t.Fatalf("expected no session initially")
	}

	client.SetSession("opaque-session")
	if !client.IsAuthenticated() {
		t.Fatalf("expected opaque token to count as authenticated")
	}

	client.SetSession(mustSignedToken(t, now.Add(time.Hour)))
	if !client.IsAuthenticated() {
		t.Fatalf("expected unexpired jwt to be authenticated")
	}

	client.SetSession(mustSignedToken(t, now.Add(-time.Minute)))
	if client.IsAuthenticated() {
		t.Fatalf("expected expired jwt to be rejected")
	}

	client.ClearSession()
	if client.IsAuthenticated() {
		t.Fatalf("expected cleared session to be unauthenticated")
	}
}

func TestPushSendsBatchWithBearerToken(t *testing.T) {
	var received PushRequest
	var authorization string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sync/push" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		authorization = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode push: %v", err)
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}, "session-token")

	_, err := client.Push(context.Background(), "tasks", []Record{{"id": "t1", "tags": []any{"a"}}}, "linux_box_1")
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if authorization != "Bearer session-token" {
		t.Fatalf("unexpected authorization header %q", authorization)
	}
	if received.TableName != "tasks" || received.DeviceID != "linux_box_1" || len(received.Records) != 1 {
		t.Fatalf("unexpected push body: %+v", received)
	}
}

func TestPushMapsFailures(t *testing.T) {
	testCases := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantMsg    string
	}{
		{name: "rejected", status: http.StatusOK, body: `{"success":false,"error":"table locked"}`, wantMsg: "table locked"},
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"boom"}`, wantStatus: 500, wantMsg: "boom"},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `nope`, wantStatus: 401, wantMsg: "401 Unauthorized"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(testCase.status)
				_, _ = w.Write([]byte(testCase.body))
			}, "")
			_, err := client.Push(context.Background(), "habits", nil, "device")
			apiErr, ok := AsAPIError(err)
			if !ok {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.StatusCode != testCase.wantStatus || apiErr.Message != testCase.wantMsg {
				t.Fatalf("unexpected error %+v", apiErr)
			}
			if testCase.wantStatus == 401 && !apiErr.IsUnauthorized() {
				t.Fatalf("expected IsUnauthorized")
			}
			if testCase.wantStatus == 500 && !apiErr.IsServerError() {
				t.Fatalf("expected IsServerError")
			}
		})
	}
}

func TestPullDecodesTablesAndWatermark(t *testing.T) {
	var received PullRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode pull: %v", err)
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"tasks":[{"id":"t1","title":"B"}],"habits":[],"last_sync":17}}`))
	}, "")

	response, err := client.Pull(context.Background(), PullRequest{DeviceID: "device", Tables: []string{"tasks", "habits"}})
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if received.LastSync != nil || received.DeviceID != "device" || len(received.Tables) != 2 {
		t.Fatalf("unexpected pull request: %+v", received)
	}
	if response.Data.LastSync != "17" {
		t.Fatalf("expected watermark 17, got %q", response.Data.LastSync)
	}
	tasks := response.Data.Tables["tasks"]
	if len(tasks) != 1 || tasks[0]["title"] != "B" {
		t.Fatalf("unexpected tasks: %v", tasks)
	}
	if _, ok := response.Data.Tables["habits"]; !ok {
		t.Fatalf("expected empty habits table to be present")
	}
}

func TestPullSkipsNonRowDataKeys(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"tasks":[{"id":"t1"}],"server_time":123,"meta":{"page":1},"last_sync":"9"}}`))
	}, "")

	response, err := client.Pull(context.Background(), PullRequest{DeviceID: "device"})
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if response.Data.LastSync != "9" {
		t.Fatalf("expected watermark 9, got %q", response.Data.LastSync)
	}
	if len(response.Data.Tables["tasks"]) != 1 {
		t.Fatalf("expected one task, got %v", response.Data.Tables)
	}
	if _, ok := response.Data.Tables["server_time"]; ok {
		t.Fatalf("expected server_time to be skipped")
	}
	if len(response.Data.Ignored) != 2 || response.Data.Ignored[0] != "meta" || response.Data.Ignored[1] != "server_time" {
		t.Fatalf("unexpected ignored keys %v", response.Data.Ignored)
	}
}

func TestRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client, err := NewClient(Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Pull(context.Background(), PullRequest{DeviceID: "device"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCrudRoutes(t *testing.T) {
	type call struct {
		method string
		path   string
	}
	var calls []call
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, call{method: r.Method, path: r.URL.EscapedPath()})
		switch r.Method {
		case http.MethodDelete:
			_, _ = w.Write([]byte(`{"success":true}`))
		case http.MethodPatch:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"success":false,"error":"not found"}`))
		default:
			_, _ = w.Write([]byte(`{"success":true,"data":{"id":"c1","name":"Physics"}}`))
		}
	}, "")
	ctx := context.Background()

	created, err := client.CreateClass(ctx, Record{"name": "Physics"})
	if err != nil {
		t.Fatalf("create class: %v", err)
	}
	if created["id"] != "c1" {
		t.Fatalf("unexpected class: %v", created)
	}

	_, err = client.UpdateEvent(ctx, "e 1", Record{"title": "Moved"})
	apiErr, ok := AsAPIError(err)
	if !ok || !apiErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := client.DeleteHabit(ctx, "h1"); err != nil {
		t.Fatalf("delete habit: %v", err)
	}

	expected := []call{
		{method: http.MethodPost, path: "/classes"},
		{method: http.MethodPatch, path: "/events/e%201"},
		{method: http.MethodDelete, path: "/habits/h1"},
	}
	if len(calls) != len(expected) {
		t.Fatalf("expected %d calls, got %v", len(expected), calls)
	}
	for index := range expected {
		if calls[index] != expected[index] {
			t.Fatalf("call %d: expected %+v, got %+v", index, expected[index], calls[index])
		}
	}
}

package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard-api/account"
	"taskboard-api/domain"
	"taskboard-api/events"
)

func readLine(t *testing.T, r *bufio.Reader, prefix string) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
}

func TestStreamEvents(t *testing.T) {
	_, client := newTestRedis(t)
	logger, _ := test.NewNullLogger()
	accounts := newLocalAccounts(t)
	tokens, err := accounts.Register(context.Background(), "Ada", "ada@example.com", "secret1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	claims, err := accounts.Verify(tokens.AccessToken, account.KindAccess)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	pub := events.NewRedisPublisher(client, "board-events")
	e := echo.New()
	Register(e, Deps{Auth: NewAuth(accounts, nil, "", ""), Stream: pub, Log: logger})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/events")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?token="+tokens.AccessToken, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	readLine(t, r, ": connected")

	ev := events.NewEvent(domain.TaskMoved, "task", "t1", claims.Subject, "l1")
	if err := pub.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if id := readLine(t, r, "id: "); id != ev.ID {
		t.Fatalf("unexpected event id %q", id)
	}
	if typ := readLine(t, r, "event: "); typ != domain.TaskMoved {
		t.Fatalf("unexpected event type %q", typ)
	}
	var got domain.Event
	if err := sonic.UnmarshalString(readLine(t, r, "data: "), &got); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if got != ev {
		t.Fatalf("unexpected event: %+v", got)
	}
}

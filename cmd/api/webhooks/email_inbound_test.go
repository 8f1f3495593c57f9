package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apppkg "github.com/aidly/aidly-go/cmd/api/app"
)

type fakeRow struct{ scan func(dest ...any) error }

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type statement struct {
	sql  string
	args []any
}

type fakeDB struct {
	tickets int64
	known   map[int]int64
	stmts   []statement
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	f.stmts = append(f.stmts, statement{sql, args})
	if strings.HasPrefix(sql, "select id from tickets") {
		return fakeRow{scan: func(dest ...any) error {
			if id, ok := f.known[args[0].(int)]; ok {
				*dest[0].(*int64) = id
				return nil
			}
			return pgx.ErrNoRows
		}}
	}
	if strings.HasPrefix(sql, "insert into tickets") {
		return fakeRow{scan: func(dest ...any) error {
			f.tickets++
			*dest[0].(*int64) = f.tickets
			return nil
		}}
	}
	return fakeRow{scan: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.stmts = append(f.stmts, statement{sql, args})
	return pgconn.CommandTag{}, nil
}

func newTestApp(db *fakeDB) *apppkg.App {
	gin.SetMode(gin.TestMode)
	a := apppkg.NewApp(apppkg.Config{Env: "test"}, db, nil, nil, nil, nil, nil)
	a.R.POST("/webhooks/email-inbound", EmailInbound(a))
	return a
}

func post(t *testing.T, a *apppkg.App, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/email-inbound", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	a.R.ServeHTTP(rr, req)
	return rr
}

func TestEmailInboundCreatesTicket(t *testing.T) {
	db := &fakeDB{known: map[int]int64{}}
	rr := post(t, newTestApp(db), `{
		"from": "alice@example.com",
		"subject": "Printer on fire",
		"body": "Hello,\n\nThe printer is on fire.\n\n--\nAlice",
		"message_id": "<m1@example.com>"
	}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var out struct {
		TicketID int64 `json:"ticket_id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil || out.TicketID != 1 {
		t.Fatalf("ticket_id: %v err %v", out.TicketID, err)
	}
	var created bool
	for _, s := range db.stmts {
		if strings.HasPrefix(s.sql, "insert into tickets") {
			created = true
			if got := s.args[1].(string); got != "Hello,\n\nThe printer is on fire." {
				t.Fatalf("body not cleaned: %q", got)
			}
		}
	}
	if !created {
		t.Fatal("ticket not created")
	}
}

func TestEmailInboundThreadsReply(t *testing.T) {
	db := &fakeDB{known: map[int]int64{17: 99}}
	rr := post(t, newTestApp(db), `{
		"from": "alice@example.com",
		"subject": "Re: [TKT-17] Printer on fire",
		"body": "Still burning.\n\n> earlier message"
	}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var commented bool
	for _, s := range db.stmts {
		if strings.HasPrefix(s.sql, "insert into tickets") {
			t.Fatal("reply created a new ticket")
		}
		if strings.HasPrefix(s.sql, "insert into ticket_comments") {
			commented = true
			if s.args[0].(int64) != 99 {
				t.Fatalf("comment ticket id: %v", s.args[0])
			}
			if got := s.args[1].(string); got != "Still burning." {
				t.Fatalf("quoted text kept: %q", got)
			}
		}
	}
	if !commented {
		t.Fatal("no comment appended")
	}
}

func TestEmailInboundHTMLBody(t *testing.T) {
	db := &fakeDB{known: map[int]int64{}}
	rr := post(t, newTestApp(db), `{
		"from": "bob@example.com",
		"subject": "Help",
		"body": "<p>Hello <b>team</b></p><p>It broke.</p>",
		"is_html": true
	}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	for _, s := range db.stmts {
		if strings.HasPrefix(s.sql, "insert into tickets") {
			if got := s.args[1].(string); got != "Hello team\n\nIt broke." {
				t.Fatalf("html not converted: %q", got)
			}
		}
	}
}

func TestEmailInboundRejectsBadPayload(t *testing.T) {
	rr := post(t, newTestApp(&fakeDB{}), `{"subject":"no body or from"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

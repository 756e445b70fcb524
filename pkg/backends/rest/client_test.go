package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/aquaform/aquaform/pkg/engine"
	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

// fakeAPI records execute_sql calls and answers with a canned response.
type fakeAPI struct {
	mu       sync.Mutex
	commands []string
	headers  []http.Header

	status int
	reply  string
	schema string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers = append(f.headers, r.Header.Clone())

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/rest/v1/":
		w.Header().Set("Content-Type", "application/openapi+json")
		_, _ = io.WriteString(w, f.schema)
	case r.Method == http.MethodPost && r.URL.Path == "/rest/v1/rpc/execute_sql":
		var req executeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.commands = append(f.commands, req.Command)
		status := f.status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, f.reply)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAPI) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c, err := New(Config{URL: srv.URL + "/", Key: "service-key"}, zerolog.Nop(), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func profilesTable() *schema.Table {
	return &schema.Table{
		Name: "profiles",
		Kind: schema.KindRESTTable,
		Columns: []schema.Column{
			{Name: "id", Type: "uuid"},
			{Name: "user_id", Type: "uuid"},
			{Name: "bio", Type: "text", Nullable: true},
		},
		PrimaryKey: []string{"id"},
		ForeignKeys: []schema.ForeignKey{{
			Columns:          []string{"user_id"},
			ReferenceTable:   "users",
			ReferenceColumns: []string{"id"},
			OnDelete:         schema.ActionCascade,
		}},
	}
}

func TestNew_RequiresURLAndKey(t *testing.T) {
	if _, err := New(Config{URL: "https://example.test"}, zerolog.Nop()); err == nil {
		t.Error("expected error without key")
	}
	if _, err := New(Config{Key: "k"}, zerolog.Nop()); err == nil {
		t.Error("expected error without url")
	}
}

func TestClient_Execute(t *testing.T) {
	api := &fakeAPI{reply: `{"success": true}`}
	c := newTestClient(t, api)

	res, err := c.Execute(context.Background(), &engine.Action{
		Type:     engine.ActionCreateTable,
		Resource: "profiles",
		Table:    profilesTable(),
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	want := "CREATE TABLE \"profiles\" (\n" +
		"  \"id\" uuid NOT NULL,\n" +
		"  \"user_id\" uuid NOT NULL,\n" +
		"  \"bio\" text,\n" +
		"  PRIMARY KEY (\"id\"),\n" +
		"  CONSTRAINT \"profiles_user_id_users_fkey\" FOREIGN KEY (\"user_id\") REFERENCES \"users\" (\"id\") ON DELETE CASCADE\n" +
		")"
	if diff := cmp.Diff([]string{want}, api.Commands()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(api.Commands(), res.Statements); diff != "" {
		t.Errorf("result statements mismatch (-want +got):\n%s", diff)
	}

	h := api.headers[0]
	if h.Get("apikey") != "service-key" {
		t.Errorf("apikey = %q", h.Get("apikey"))
	}
	if h.Get("Authorization") != "Bearer service-key" {
		t.Errorf("Authorization = %q", h.Get("Authorization"))
	}
	if h.Get("Prefer") != "return=representation" {
		t.Errorf("Prefer = %q", h.Get("Prefer"))
	}
}

func TestClient_ExecuteFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		reply    string
		wantCode string
		wantErr  error
	}{
		{
			name:     "rpc reports failure",
			reply:    `{"success": false, "error": "relation \"profiles\" already exists"}`,
			wantCode: engine.ErrCodeAlreadyExists,
			wantErr:  engine.ErrAlreadyExists,
		},
		{
			name:     "rpc failure with sqlstate",
			reply:    `{"success": false, "error": "insert or update violates foreign key", "code": "23503"}`,
			wantCode: engine.ErrCodeConstraintViolation,
			wantErr:  engine.ErrConstraintViolation,
		},
		{
			name:     "postgrest error body",
			status:   http.StatusBadRequest,
			reply:    `{"code": "42P01", "message": "relation \"users\" does not exist", "details": null, "hint": null}`,
			wantCode: engine.ErrCodeNotFound,
			wantErr:  engine.ErrNotFound,
		},
		{
			name:     "unauthorized",
			status:   http.StatusUnauthorized,
			reply:    `Invalid API key`,
			wantCode: engine.ErrCodePermissionDenied,
			wantErr:  engine.ErrPermissionDenied,
		},
		{
			name:     "unavailable",
			status:   http.StatusServiceUnavailable,
			wantCode: engine.ErrCodeConnectionFailure,
			wantErr:  engine.ErrConnectionFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{status: tt.status, reply: tt.reply}
			c := newTestClient(t, api)

			_, err := c.Execute(context.Background(), &engine.Action{
				Type:       engine.ActionDropColumn,
				Resource:   "profiles",
				ColumnName: "bio",
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %s, got %v", tt.wantCode, err)
			}
			if code := engine.CodeOf(err); code != tt.wantCode {
				t.Errorf("CodeOf = %s, want %s", code, tt.wantCode)
			}

			var ee *engine.EngineError
			if errors.As(err, &ee) && ee.Resource != "profiles" {
				t.Errorf("Resource = %q", ee.Resource)
			}
		})
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{URL: url, Key: "k"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = c.Execute(context.Background(), &engine.Action{Type: engine.ActionDropTable, Resource: "profiles"})
	if !errors.Is(err, engine.ErrConnectionFailure) {
		t.Fatalf("expected CONNECTION_FAILURE, got %v", err)
	}
	if !engine.IsTransient(err) {
		t.Error("connection failures must be transient")
	}
}

const openAPISchema = `{
  "swagger": "2.0",
  "definitions": {
    "users": {
      "required": ["id", "email"],
      "properties": {
        "id": {"type": "string", "format": "uuid", "description": "Note:\nThis is a Primary Key.<pk/>"},
        "email": {"type": "string", "format": "text"}
      }
    },
    "profiles": {
      "required": ["id", "user_id"],
      "properties": {
        "id": {"type": "string", "format": "uuid", "description": "Note:\nThis is a Primary Key.<pk/>"},
        "user_id": {"type": "string", "format": "uuid", "description": "Note:\nThis is a Foreign Key to ` + "`users.id`" + `.<fk table='users' column='id'/>"},
        "bio": {"type": "string", "format": "text", "default": "none"}
      }
    }
  }
}`

func TestClient_Describe(t *testing.T) {
	api := &fakeAPI{schema: openAPISchema}
	c := newTestClient(t, api)

	desc, err := c.Describe(context.Background(), "profiles")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if desc.LiveName != "public.profiles" {
		t.Errorf("LiveName = %s", desc.LiveName)
	}

	def := "none"
	want := &schema.Table{
		Name: "profiles",
		Kind: schema.KindRESTTable,
		Columns: []schema.Column{
			{Name: "bio", Type: "text", Nullable: true, Default: &def},
			{Name: "id", Type: "uuid"},
			{Name: "user_id", Type: "uuid"},
		},
		PrimaryKey: []string{"id"},
		ForeignKeys: []schema.ForeignKey{{
			Columns:          []string{"user_id"},
			ReferenceTable:   "users",
			ReferenceColumns: []string{"id"},
		}},
	}
	if diff := cmp.Diff(want, desc.Table); diff != "" {
		t.Errorf("table mismatch (-want +got):\n%s", diff)
	}

	if _, err := c.Describe(context.Background(), "ghosts"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		sqlstate string
		msg      string
		want     string
	}{
		{"42P07", "relation exists", engine.ErrCodeAlreadyExists},
		{"", "column \"x\" of relation \"t\" does not exist", engine.ErrCodeNotFound},
		{"", "permission denied for schema public", engine.ErrCodePermissionDenied},
		{"XX000", "something odd", engine.ErrCodeInternal},
		{"", "canceling statement due to statement timeout", engine.ErrCodeTimeout},
	}
	for _, tt := range tests {
		if got := classifyMessage(tt.sqlstate, tt.msg); got != tt.want {
			t.Errorf("classifyMessage(%q, %q) = %s, want %s", tt.sqlstate, tt.msg, got, tt.want)
		}
	}
}

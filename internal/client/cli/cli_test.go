package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/rollcall/internal/client/api"
	"github.com/iudanet/rollcall/internal/client/iocli"
	"github.com/iudanet/rollcall/internal/client/storage/boltdb"
	"github.com/iudanet/rollcall/internal/clock"
	"github.com/iudanet/rollcall/internal/models"
	"github.com/iudanet/rollcall/internal/server/feed"
	"github.com/iudanet/rollcall/internal/server/handlers"
	"github.com/iudanet/rollcall/internal/server/middleware"
	"github.com/iudanet/rollcall/internal/server/service"
	"github.com/iudanet/rollcall/internal/server/storage/memory"
	"github.com/iudanet/rollcall/internal/validation"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// syncBuffer is a bytes.Buffer safe for a command writing in another goroutine
type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// terminalIO притворяется терминалом, чтобы проверить подтверждение
type terminalIO struct {
	iocli.IO
}

func (terminalIO) IsTerminal() bool { return true }

type harness struct {
	svc    service.Service
	hub    *feed.Hub
	client *api.Client
	cache  *boltdb.Storage
	logger *slog.Logger
}

func setupHarness(t *testing.T) *harness {
	t.Helper()
	logger := setupTestLogger()

	hub := feed.NewHub(logger, 0, nil)
	t.Cleanup(hub.Close)
	svc := service.NewService(memory.New(), hub, clock.New(), validation.ParticipantSchema(), nil, logger)

	mux := http.NewServeMux()
	rt := &handlers.Router{
		Records: handlers.NewRecordsHandler(logger, svc),
		Feed:    handlers.NewFeedHandler(logger, svc, time.Second),
	}
	rt.Register(mux, middleware.ActorHeaderMiddleware(""))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cache, err := boltdb.New(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = cache.Close()
	})

	return &harness{
		svc:    svc,
		hub:    hub,
		client: api.NewClient(server.URL, api.Options{ActorID: "editor-1"}, logger),
		cache:  cache,
		logger: logger,
	}
}

func (h *harness) command(io iocli.IO) *cobra.Command {
	factory := func(cmd *cobra.Command) (*Cli, func() error, error) {
		return New(io, h.client, h.cache, clock.New(), Options{
			Schema:  validation.ParticipantSchema(),
			ActorID: "editor-1",
			Quiet:   time.Hour,
		}, h.logger), nil, nil
	}
	return NewRootCommand("test", factory)
}

func (h *harness) run(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	out := &syncBuffer{}
	root := h.command(iocli.New(strings.NewReader(input), out))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := h.run(t, "", args...)
	require.NoError(t, err, out)
	return out
}

func (h *harness) seed(t *testing.T) {
	t.Helper()
	h.mustRun(t, "create", "--id", "P1", "name=김민수", "call_status=대기중")
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand("1.2.3", Connect)
	assert.Equal(t, "rollcall", cmd.Use)
	assert.Equal(t, "1.2.3", cmd.Version)

	for _, name := range []string{"create", "get", "list", "edit", "status", "history", "restore", "watch"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	for _, flag := range []string{"server", "actor", "token", "cache", "quiet", "format", "config"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestInvalidFormat(t *testing.T) {
	h := setupHarness(t)
	_, err := h.run(t, "", "--format", "xml", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestParseAssignments(t *testing.T) {
	fields, err := parseAssignments([]string{
		"name=김민수",
		"party_size=3",
		"vip=true",
		"memo=null",
		`seat={"row":"A"}`,
		"phone=010-1234-5678",
		"note=a=b",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"name":       "김민수",
		"party_size": float64(3),
		"vip":        true,
		"memo":       nil,
		"seat":       map[string]any{"row": "A"},
		"phone":      "010-1234-5678",
		"note":       "a=b",
	}, fields)

	for _, bad := range [][]string{{"novalue"}, {"=x"}, {"a=1", "a=2"}} {
		_, err := parseAssignments(bad)
		assert.Error(t, err, bad)
	}
}

func TestCreateGetList(t *testing.T) {
	h := setupHarness(t)

	out := h.mustRun(t, "create", "--id", "P1", "name=김민수", "call_status=대기중")
	assert.Contains(t, out, "Created record P1")

	_, err := h.run(t, "", "create", "--id", "P2", "call_status=maybe")
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)

	out = h.mustRun(t, "get", "P1")
	assert.Contains(t, out, "ID:       P1")
	assert.Contains(t, out, "Version:  1")
	assert.Contains(t, out, "대기중")

	out = h.mustRun(t, "list")
	assert.Contains(t, out, "Found 1 record(s)")
	assert.Contains(t, out, "call_status=대기중")

	out = h.mustRun(t, "list", "--cached")
	assert.Contains(t, out, "P1")

	out = h.mustRun(t, "--format", "json", "get", "P1")
	var rec models.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "editor-1", rec.LastModifiedBy)

	_, err = h.run(t, "", "get", "ghost")
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestEditStatusHistory(t *testing.T) {
	h := setupHarness(t)
	h.seed(t)

	out := h.mustRun(t, "edit", "P1", "memo=call after 6pm", "party_size=2")
	assert.Contains(t, out, "Saved memo, party_size (version 2)")
	assert.Contains(t, out, "History entry:")

	out = h.mustRun(t, "status", "P1", "call_status", "응답(참석)")
	assert.Contains(t, out, "Saved call_status (version 3)")

	_, err := h.run(t, "", "status", "P1", "memo", "x")
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)

	rec, err := h.svc.GetRecord(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, "응답(참석)", rec.Fields["call_status"])
	assert.Equal(t, float64(2), rec.Fields["party_size"])

	out = h.mustRun(t, "history", "P1")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "ACTION")
	assert.Contains(t, lines[1], "status_change")
	assert.Contains(t, lines[1], "call_status: 대기중 -> 응답(참석)")
	assert.Contains(t, lines[2], "field_update")
	assert.Contains(t, lines[2], "memo: null -> call after 6pm")

	out = h.mustRun(t, "history", "P1", "--limit", "1", "--format", "json")
	var entries []*models.ChangeLogEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionStatusChange, entries[0].ActionType)
}

func TestRestore(t *testing.T) {
	h := setupHarness(t)
	h.seed(t)
	h.mustRun(t, "status", "P1", "call_status", "응답(참석)")

	var entries []*models.ChangeLogEntry
	require.NoError(t, json.Unmarshal([]byte(h.mustRun(t, "history", "P1", "--format", "json")), &entries))
	require.Len(t, entries, 1)
	target := entries[0].ID

	_, err := h.run(t, "", "restore", target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")

	_, err = h.run(t, "", "restore", target, "--field", "memo", "--yes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not change memo")

	out := h.mustRun(t, "restore", target, "--yes")
	assert.Contains(t, out, "Restored call_status of record P1 (version 3)")

	rec, err := h.svc.GetRecord(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, "대기중", rec.Fields["call_status"])

	out = h.mustRun(t, "history", "P1")
	assert.Contains(t, out, "restore (from "+target+")")

	cached, err := h.cache.GetRecord(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cached.Version)
}

func TestRestore_Confirmation(t *testing.T) {
	h := setupHarness(t)
	h.seed(t)
	h.mustRun(t, "status", "P1", "call_status", "부재중")

	entries, err := h.svc.ListEntries(context.Background(), models.HistoryQuery{RecordID: "P1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	run := func(input string) (string, error) {
		out := &syncBuffer{}
		root := h.command(terminalIO{IO: iocli.New(strings.NewReader(input), out)})
		root.SetArgs([]string{"restore", entries[0].ID})
		err := root.ExecuteContext(context.Background())
		return out.String(), err
	}

	out, err := run("n\n")
	assert.ErrorIs(t, err, ErrNotConfirmed)
	assert.Contains(t, out, "call_status: 부재중 -> 대기중")

	rec, err := h.svc.GetRecord(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, "부재중", rec.Fields["call_status"])

	out, err = run("y\n")
	require.NoError(t, err)
	assert.Contains(t, out, "Restored call_status")
}

func TestWatch(t *testing.T) {
	h := setupHarness(t)
	h.seed(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	root := h.command(iocli.New(strings.NewReader(""), out))
	root.SetArgs([]string{"watch", "P1"})

	done := make(chan error, 1)
	go func() {
		done <- root.ExecuteContext(ctx)
	}()

	require.Eventually(t, func() bool { return h.hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err := h.svc.UpdateRecord(ctx, "P1", models.Patch{Fields: map[string]any{"memo": "watched"}, ActorID: "editor-2"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "P1 v2  editor-2  field_update  memo=watched")
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		rec, err := h.cache.GetRecord(context.Background(), "P1")
		return err == nil && rec.Version == 2 && rec.Fields["memo"] == "watched"
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

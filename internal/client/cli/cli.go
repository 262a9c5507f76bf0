// Package cli implements the rollcall command line client.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/iudanet/rollcall/internal/client/iocli"
	"github.com/iudanet/rollcall/internal/client/restore"
	"github.com/iudanet/rollcall/internal/client/session"
	"github.com/iudanet/rollcall/internal/client/storage"
	"github.com/iudanet/rollcall/internal/clock"
	"github.com/iudanet/rollcall/internal/models"
	"github.com/iudanet/rollcall/internal/validation"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Backend is the server API the commands use
type Backend interface {
	session.Backend
	CreateRecord(ctx context.Context, id string, fields map[string]any) (*models.Record, error)
	ListRecords(ctx context.Context, limit int) ([]*models.Record, error)
}

// Options configures a Cli
type Options struct {
	Schema  *validation.Schema
	ActorID string
	Format  string
	Quiet   time.Duration
}

type Cli struct {
	io      iocli.IO
	backend Backend
	cache   storage.RecordCache
	clock   clock.Clock
	schema  *validation.Schema
	logger  *slog.Logger
	actorID string
	format  string
	quiet   time.Duration
}

// New creates the client. cache may be nil.
func New(io iocli.IO, backend Backend, cache storage.RecordCache, clk clock.Clock, opts Options, logger *slog.Logger) *Cli {
	if opts.Format == "" {
		opts.Format = FormatText
	}
	return &Cli{
		io:      io,
		backend: backend,
		cache:   cache,
		clock:   clk,
		schema:  opts.Schema,
		logger:  logger,
		actorID: opts.ActorID,
		format:  opts.Format,
		quiet:   opts.Quiet,
	}
}

// openSession создает сессию редактора на время одной команды
func (c *Cli) openSession(onPhase func(recordID string, p restore.Phase)) *session.Session {
	opts := session.Options{
		Schema:  c.schema,
		ActorID: c.actorID,
		Quiet:   c.quiet,
		OnPhase: onPhase,
	}
	if c.cache != nil {
		opts.Cache = c.cache
	}
	return session.New(c.backend, c.clock, opts, c.logger)
}

func (c *Cli) cacheRecord(ctx context.Context, rec *models.Record) {
	if c.cache == nil {
		return
	}
	if err := c.cache.PutRecord(ctx, rec); err != nil {
		c.logger.Warn("Failed to cache record", "record_id", rec.ID, "error", err)
	}
}

func (c *Cli) json() bool {
	return c.format == FormatJSON
}

func (c *Cli) printJSON(v any) error {
	enc := json.NewEncoder(c.io)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func jsonLine(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode output: %w", err)
	}
	return append(raw, '\n'), nil
}

func (c *Cli) printRecord(rec *models.Record) error {
	if c.json() {
		return c.printJSON(rec)
	}

	c.io.Printf("ID:       %s\n", rec.ID)
	c.io.Printf("Version:  %d\n", rec.Version)
	c.io.Printf("Modified: %s by %s\n", formatTime(rec.LastModifiedAt), orDash(rec.LastModifiedBy))
	c.io.Println()

	tw := tabwriter.NewWriter(c.io, 0, 4, 2, ' ', 0)
	for _, name := range rec.FieldNames() {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", name, formatValue(rec.Fields[name]))
	}
	return tw.Flush()
}

// parseAssignments разбирает аргументы вида field=value.
// Значение, являющееся корректным JSON, декодируется (3, true, null, {"row":"A"}),
// иначе берется как строка.
func parseAssignments(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected field=value", arg)
		}
		if _, dup := fields[name]; dup {
			return nil, fmt.Errorf("field %s assigned twice", name)
		}
		fields[name] = parseValue(raw)
	}
	return fields, nil
}

func parseValue(raw string) any {
	var v any
	if json.Valid([]byte(raw)) && json.Unmarshal([]byte(raw), &v) == nil {
		return v
	}
	return raw
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		if t == "" {
			return `""`
		}
		return t
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}

// formatChanges печатает "field: before -> after" для каждого поля записи журнала
func formatChanges(e *models.ChangeLogEntry) string {
	parts := make([]string, 0, len(e.Fields()))
	for _, f := range e.Fields() {
		parts = append(parts, fmt.Sprintf("%s: %s -> %s", f, formatValue(e.Before[f]), formatValue(e.After[f])))
	}
	return strings.Join(parts, "; ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

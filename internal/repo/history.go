package repo

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/chartpilot/analysis-engine/internal/cache"
	"github.com/chartpilot/analysis-engine/internal/clock"
	"github.com/chartpilot/analysis-engine/internal/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var (
	// ErrNotFound is returned when a record does not exist for the subject.
	ErrNotFound = errors.New("analysis not found")
	// ErrInvalidPageToken is returned for tokens List did not issue.
	ErrInvalidPageToken = errors.New("invalid page token")
)

const schema = `
CREATE TABLE IF NOT EXISTS analyses (
	id         TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	display    TEXT NOT NULL,
	source     TEXT NOT NULL,
	pair       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	result     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS analyses_subject_created ON analyses (subject_id, created_at DESC, id DESC);
`

// HistoryConfig configures the SQLite history store.
type HistoryConfig struct {
	Path      string        `yaml:"path" env:"PATH"`
	ListTTL   time.Duration `yaml:"list_ttl" env:"LIST_TTL"`
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
}

// SQLiteHistory persists analysis records in a local SQLite database.
type SQLiteHistory struct {
	db      *sql.DB
	clock   clock.Source
	cache   cache.Provider
	listTTL time.Duration
	logger  *slog.Logger
}

// NewSQLiteHistory opens (or creates) the database at path and applies the schema.
func NewSQLiteHistory(ctx context.Context, path string, clk clock.Source, cacheProvider cache.Provider, listTTL time.Duration, logger *slog.Logger) (*SQLiteHistory, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path is required")
	}
	if clk == nil {
		clk = clock.System{}
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if listTTL < 0 {
		listTTL = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY under concurrent saves.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &SQLiteHistory{db: db, clock: clk, cache: cacheProvider, listTTL: listTTL, logger: logger}, nil
}

// Close releases the database handle.
func (h *SQLiteHistory) Close() error {
	return h.db.Close()
}

// Save stores a finished analysis and invalidates the subject's cached lists.
func (h *SQLiteHistory) Save(ctx context.Context, subjectID, display string, source models.Source, result models.AnalysisResult) (models.AnalysisRecord, error) {
	if strings.TrimSpace(subjectID) == "" {
		return models.AnalysisRecord{}, errors.New("subject id is required")
	}
	record := models.AnalysisRecord{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		Display:   display,
		Source:    source,
		CreatedAt: h.clock.Now().UTC(),
		Result:    result,
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return models.AnalysisRecord{}, fmt.Errorf("encode result: %w", err)
	}

	_, err = h.db.ExecContext(ctx,
		`INSERT INTO analyses (id, subject_id, display, source, pair, created_at, result) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID, subjectID, display, string(source), result.Pair, record.CreatedAt.UnixNano(), string(payload))
	if err != nil {
		return models.AnalysisRecord{}, fmt.Errorf("insert analysis: %w", err)
	}

	h.invalidate(ctx, subjectID)
	return record, nil
}

// Get returns one record owned by subjectID.
func (h *SQLiteHistory) Get(ctx context.Context, subjectID, id string) (models.AnalysisRecord, error) {
	row := h.db.QueryRowContext(ctx,
		`SELECT id, subject_id, display, source, created_at, result FROM analyses WHERE id = ? AND subject_id = ?`,
		id, subjectID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AnalysisRecord{}, ErrNotFound
	}
	return record, err
}

// List returns a page of records, newest first.
func (h *SQLiteHistory) List(ctx context.Context, req models.ListHistoryRequest) (models.ListHistoryResponse, error) {
	if strings.TrimSpace(req.SubjectID) == "" {
		return models.ListHistoryResponse{}, errors.New("subject id is required")
	}
	size := req.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	cacheKey := ""
	if h.listTTL > 0 {
		cacheKey = h.listCacheKey(ctx, req, size)
		var cached models.ListHistoryResponse
		if err := cache.GetJSON(ctx, h.cache, cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	query := strings.Builder{}
	query.WriteString(`SELECT id, subject_id, display, source, created_at, result FROM analyses WHERE subject_id = ?`)
	args := []any{req.SubjectID}
	if req.Pair != "" {
		query.WriteString(` AND pair = ?`)
		args = append(args, req.Pair)
	}
	if !req.Before.IsZero() {
		query.WriteString(` AND created_at < ?`)
		args = append(args, req.Before.UnixNano())
	}
	if req.PageToken != "" {
		at, id, err := decodePageToken(req.PageToken)
		if err != nil {
			return models.ListHistoryResponse{}, err
		}
		query.WriteString(` AND (created_at < ? OR (created_at = ? AND id < ?))`)
		args = append(args, at, at, id)
	}
	query.WriteString(` ORDER BY created_at DESC, id DESC LIMIT ?`)
	args = append(args, size+1)

	rows, err := h.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return models.ListHistoryResponse{}, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	records := make([]models.AnalysisRecord, 0, size)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return models.ListHistoryResponse{}, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return models.ListHistoryResponse{}, fmt.Errorf("list analyses: %w", err)
	}

	resp := models.ListHistoryResponse{Records: records}
	if len(records) > size {
		resp.Records = records[:size]
		last := resp.Records[size-1]
		resp.NextPageToken = encodePageToken(last.CreatedAt.UnixNano(), last.ID)
	}

	if cacheKey != "" {
		if err := cache.SetJSON(ctx, h.cache, cacheKey, resp, h.listTTL); err != nil {
			h.logger.Debug("history list cache write failed", slog.Any("error", err))
		}
	}
	return resp, nil
}

// Recent returns up to limit records for the subject, newest first.
func (h *SQLiteHistory) Recent(ctx context.Context, subjectID, pair string, limit int) ([]models.AnalysisRecord, error) {
	var out []models.AnalysisRecord
	req := models.ListHistoryRequest{SubjectID: subjectID, Pair: pair, PageSize: maxPageSize}
	for len(out) < limit {
		page, err := h.List(ctx, req)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Records...)
		if page.NextPageToken == "" {
			break
		}
		req.PageToken = page.NextPageToken
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PurgeOlderThan deletes records created before cutoff and returns how many were removed.
func (h *SQLiteHistory) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	subjects, err := h.subjectsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	res, err := h.db.ExecContext(ctx, `DELETE FROM analyses WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge analyses: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	for _, subject := range subjects {
		h.invalidate(ctx, subject)
	}
	if removed > 0 {
		h.logger.Info("history purged", slog.Int64("removed", removed), slog.Time("cutoff", cutoff))
	}
	return removed, nil
}

func (h *SQLiteHistory) subjectsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT DISTINCT subject_id FROM analyses WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("purge analyses: %w", err)
	}
	defer rows.Close()
	var subjects []string
	for rows.Next() {
		var subject string
		if err := rows.Scan(&subject); err != nil {
			return nil, err
		}
		subjects = append(subjects, subject)
	}
	return subjects, rows.Err()
}

// invalidate bumps the subject's list generation so earlier cache keys go stale.
func (h *SQLiteHistory) invalidate(ctx context.Context, subjectID string) {
	if h.listTTL <= 0 {
		return
	}
	if err := h.cache.Set(ctx, generationKey(subjectID), []byte(uuid.NewString()), 0); err != nil {
		h.logger.Warn("history cache invalidation failed", slog.String("subject", subjectID), slog.Any("error", err))
	}
}

func (h *SQLiteHistory) listCacheKey(ctx context.Context, req models.ListHistoryRequest, size int) string {
	generation := h.generation(ctx, req.SubjectID)
	before := ""
	if !req.Before.IsZero() {
		before = strconv.FormatInt(req.Before.UnixNano(), 10)
	}
	return fmt.Sprintf("history:list:%s:%s:%s:%s:%d:%s", req.SubjectID, generation, req.Pair, before, size, req.PageToken)
}

// generation returns the subject's list generation, claiming a fresh one when
// the key is missing so an evicted generation never revives stale pages.
func (h *SQLiteHistory) generation(ctx context.Context, subjectID string) string {
	key := generationKey(subjectID)
	if data, err := h.cache.Get(ctx, key); err == nil {
		return string(data)
	}
	fresh := uuid.NewString()
	claimed, err := h.cache.SetNX(ctx, key, []byte(fresh), 0)
	if err != nil {
		return fresh
	}
	if claimed {
		return fresh
	}
	if data, err := h.cache.Get(ctx, key); err == nil {
		return string(data)
	}
	return fresh
}

func generationKey(subjectID string) string {
	return "history:gen:" + subjectID
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (models.AnalysisRecord, error) {
	var (
		record  models.AnalysisRecord
		source  string
		created int64
		payload string
	)
	if err := row.Scan(&record.ID, &record.SubjectID, &record.Display, &source, &created, &payload); err != nil {
		return models.AnalysisRecord{}, err
	}
	record.Source = models.Source(source)
	record.CreatedAt = time.Unix(0, created).UTC()
	if err := json.Unmarshal([]byte(payload), &record.Result); err != nil {
		return models.AnalysisRecord{}, fmt.Errorf("decode analysis %s: %w", record.ID, err)
	}
	return record, nil
}

func encodePageToken(createdAt int64, id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(createdAt, 10) + "|" + id))
}

func decodePageToken(token string) (int64, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, "", ErrInvalidPageToken
	}
	at, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return 0, "", ErrInvalidPageToken
	}
	createdAt, err := strconv.ParseInt(at, 10, 64)
	if err != nil {
		return 0, "", ErrInvalidPageToken
	}
	return createdAt, id, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hyunsoo-kim/Bill-Herald/internal/metrics"
)

// ErrNotFound is returned when a lookup matches no endpoint row.
var ErrNotFound = errors.New("store: endpoint not found")

// Chunk sizes bounding single statements during bulk deletes.
const (
	deleteChunkSize  = 500
	cleanupChunkSize = 1000
)

// Endpoint is one registered webhook subscriber.
type Endpoint struct {
	ID          int64     `json:"id"`
	URL         string    `json:"url"`
	Active      bool      `json:"isActive"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Stats aggregates the endpoint table in a single query.
type Stats struct {
	Total          int `json:"total"`
	Active         int `json:"active"`
	Inactive       int `json:"inactive"`
	OldInactive    int `json:"oldInactive"`    // inactive, untouched for >30 days
	RecentInactive int `json:"recentInactive"` // inactive, touched within 7 days
}

// Efficiency is the active ratio in percent. An empty table counts as 100.
func (s Stats) Efficiency() float64 {
	if s.Total == 0 {
		return 100
	}
	return float64(s.Active) / float64(s.Total) * 100
}

// UpsertOutcome describes what CreateOrReactivate did.
type UpsertOutcome int

const (
	OutcomeCreated UpsertOutcome = iota
	OutcomeReactivated
	OutcomeUnchanged // row already existed and was active
)

// BulkResult reports the outcome counts of a BulkCreate call.
type BulkResult struct {
	Created     int `json:"created"`
	Reactivated int `json:"reactivated"`
	Duplicates  int `json:"duplicates"`
}

// Repo provides access to the webhook endpoint table. Writes are serialized
// with a mutex on top of the single-connection pool.
type Repo struct {
	db *sql.DB
	mu sync.Mutex
}

// NewRepo creates a Repo on an open database.
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

const endpointCols = `id, url, is_active, description, created_at_ns, updated_at_ns`

func scanEndpoint(row interface{ Scan(...any) error }) (Endpoint, error) {
	var (
		ep                   Endpoint
		active               int
		createdNs, updatedNs int64
	)
	err := row.Scan(&ep.ID, &ep.URL, &active, &ep.Description, &createdNs, &updatedNs)
	if err != nil {
		return Endpoint{}, err
	}
	ep.Active = active == 1
	ep.CreatedAt = time.Unix(0, createdNs).UTC()
	ep.UpdatedAt = time.Unix(0, updatedNs).UTC()
	return ep, nil
}

// CanonicalURL normalizes a webhook URL for uniqueness: query and fragment
// are dropped and a single trailing slash is stripped when the path is more
// than "/". Input that does not parse as an absolute URL is returned
// unchanged; uniqueness is then enforced textually.
func CanonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	path := u.EscapedPath()
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return u.Scheme + "://" + u.Host + path
}

// CreateOrReactivate inserts the canonicalized URL or revives a soft-deleted
// row with the same URL. A row that is already active is returned as-is.
func (r *Repo) CreateOrReactivate(ctx context.Context, rawURL string) (Endpoint, UpsertOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createOrReactivateLocked(ctx, rawURL)
}

func (r *Repo) createOrReactivateLocked(ctx context.Context, rawURL string) (Endpoint, UpsertOutcome, error) {
	canon := CanonicalURL(rawURL)
	now := time.Now().UTC()

	ep, err := r.findByURLLocked(ctx, canon)
	switch {
	case errors.Is(err, ErrNotFound):
		res, err := r.db.ExecContext(ctx,
			`INSERT INTO webhooks (url, is_active, description, created_at_ns, updated_at_ns) VALUES (?, 1, '', ?, ?)`,
			canon, now.UnixNano(), now.UnixNano())
		if err != nil {
			return Endpoint{}, 0, fmt.Errorf("insert webhook: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return Endpoint{}, 0, fmt.Errorf("webhook insert id: %w", err)
		}
		return Endpoint{ID: id, URL: canon, Active: true, CreatedAt: now, UpdatedAt: now}, OutcomeCreated, nil
	case err != nil:
		return Endpoint{}, 0, err
	}

	if ep.Active {
		return ep, OutcomeUnchanged, nil
	}

	if _, err := r.db.ExecContext(ctx,
		`UPDATE webhooks SET is_active = 1, updated_at_ns = ? WHERE id = ?`, now.UnixNano(), ep.ID); err != nil {
		return Endpoint{}, 0, fmt.Errorf("reactivate webhook %d: %w", ep.ID, err)
	}
	ep.Active = true
	ep.UpdatedAt = now
	return ep, OutcomeReactivated, nil
}

// FindActive returns all active endpoints in insertion order.
func (r *Repo) FindActive(ctx context.Context) ([]Endpoint, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+endpointCols+` FROM webhooks WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query active webhooks: %w", err)
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// FindByID returns the endpoint with the given id, or ErrNotFound.
func (r *Repo) FindByID(ctx context.Context, id int64) (Endpoint, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+endpointCols+` FROM webhooks WHERE id = ?`, id)
	ep, err := scanEndpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Endpoint{}, ErrNotFound
	}
	if err != nil {
		return Endpoint{}, fmt.Errorf("find webhook %d: %w", id, err)
	}
	return ep, nil
}

// FindByURL returns the endpoint with the given canonical URL, or ErrNotFound.
func (r *Repo) FindByURL(ctx context.Context, rawURL string) (Endpoint, error) {
	return r.findByURLLocked(ctx, CanonicalURL(rawURL))
}

func (r *Repo) findByURLLocked(ctx context.Context, canon string) (Endpoint, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+endpointCols+` FROM webhooks WHERE url = ?`, canon)
	ep, err := scanEndpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Endpoint{}, ErrNotFound
	}
	if err != nil {
		return Endpoint{}, fmt.Errorf("find webhook by url: %w", err)
	}
	return ep, nil
}

// Deactivate soft-deletes an endpoint. Returns ErrNotFound for unknown ids.
func (r *Repo) Deactivate(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.ExecContext(ctx,
		`UPDATE webhooks SET is_active = 0, updated_at_ns = ? WHERE id = ?`,
		time.Now().UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("deactivate webhook %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate webhook %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePermanent physically removes the given endpoint rows, chunked to
// bound statement size. Returns the number of rows deleted.
func (r *Repo) DeletePermanent(ctx context.Context, ids []int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for start := 0; start < len(ids); start += deleteChunkSize {
		end := start + deleteChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		placeholders := strings.Repeat("?,", len(chunk))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		res, err := r.db.ExecContext(ctx,
			`DELETE FROM webhooks WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return deleted, fmt.Errorf("delete webhooks: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return deleted, fmt.Errorf("delete webhooks: %w", err)
		}
		deleted += int(n)
	}
	return deleted, nil
}

// CleanupOlderInactive physically deletes inactive endpoints whose last
// update is older than ageDays, selecting then deleting in chunks until
// exhausted. Returns the total number deleted.
func (r *Repo) CleanupOlderInactive(ctx context.Context, ageDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -ageDays)

	total := 0
	for {
		rows, err := r.db.QueryContext(ctx,
			`SELECT id FROM webhooks WHERE is_active = 0 AND updated_at_ns < ? LIMIT ?`,
			cutoff.UnixNano(), cleanupChunkSize)
		if err != nil {
			return total, fmt.Errorf("select stale webhooks: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return total, fmt.Errorf("scan stale webhook id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return total, err
		}
		rows.Close()

		if len(ids) == 0 {
			return total, nil
		}
		n, err := r.DeletePermanent(ctx, ids)
		total += n
		if err != nil {
			return total, err
		}
	}
}

// Stats returns table aggregates from a single query.
func (r *Repo) Stats(ctx context.Context) (Stats, error) {
	now := time.Now().UTC()
	oldCutoff := now.AddDate(0, 0, -30)
	recentCutoff := now.AddDate(0, 0, -7)

	var s Stats
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN is_active = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_active = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_active = 0 AND updated_at_ns < ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_active = 0 AND updated_at_ns >= ? THEN 1 ELSE 0 END), 0)
		FROM webhooks`, oldCutoff.UnixNano(), recentCutoff.UnixNano()).
		Scan(&s.Total, &s.Active, &s.Inactive, &s.OldInactive, &s.RecentInactive)
	if err != nil {
		return Stats{}, fmt.Errorf("webhook stats: %w", err)
	}
	metrics.WebhooksTotal.Set(float64(s.Total))
	metrics.WebhooksActive.Set(float64(s.Active))
	return s, nil
}

// BulkCreate registers many URLs at once, deduplicating canonical forms.
// Already-active rows and within-input repeats both count as duplicates.
func (r *Repo) BulkCreate(ctx context.Context, urls []string) (BulkResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res BulkResult
	seen := make(map[string]struct{}, len(urls))
	for _, raw := range urls {
		canon := CanonicalURL(raw)
		if _, dup := seen[canon]; dup {
			res.Duplicates++
			continue
		}
		seen[canon] = struct{}{}

		_, outcome, err := r.createOrReactivateLocked(ctx, canon)
		if err != nil {
			return res, err
		}
		switch outcome {
		case OutcomeCreated:
			res.Created++
		case OutcomeReactivated:
			res.Reactivated++
		case OutcomeUnchanged:
			res.Duplicates++
		}
	}
	return res, nil
}

// Count returns the number of active endpoints.
func (r *Repo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM webhooks WHERE is_active = 1`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active webhooks: %w", err)
	}
	return n, nil
}

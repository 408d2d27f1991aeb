// Package cache persists which generated files derive from which sources,
// so unchanged trees can skip generation and stale outputs can be found.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/iVampireSP/weave/internal/diag"
	"github.com/iVampireSP/weave/internal/gen"
)

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	path TEXT PRIMARY KEY,
	hash TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS generated (
	path TEXT PRIMARY KEY,
	everything INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS edges (
	source TEXT NOT NULL,
	generated TEXT NOT NULL,
	UNIQUE(source, generated)
);
CREATE INDEX IF NOT EXISTS idx_edges_generated ON edges(generated);
`

// Cache is the provenance graph of generated files. The graph lives in
// memory as two multimaps and is written through to SQLite.
type Cache struct {
	mu  sync.Mutex
	db  *sql.DB
	log *zap.Logger

	hashes      map[string]string
	sourcesOf   map[string]map[string]bool
	generatedBy map[string]map[string]bool
	everything  map[string]bool
}

// Open opens or creates the cache database at path.
func Open(ctx context.Context, path string, log *zap.Logger) (*Cache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	c := &Cache{
		db:          db,
		log:         log.Named("cache"),
		hashes:      make(map[string]string),
		sourcesOf:   make(map[string]map[string]bool),
		generatedBy: make(map[string]map[string]bool),
		everything:  make(map[string]bool),
	}
	if err := c.load(ctx); err != nil {
		db.Close()
		return nil, err
	}
	c.log.Debug("opened", zap.String("path", path), zap.Int("sources", len(c.hashes)), zap.Int("generated", len(c.sourcesOf)))
	return c, nil
}

func (c *Cache) load(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create cache tables: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, `SELECT path, hash FROM sources`)
	if err != nil {
		return fmt.Errorf("read sources: %w", err)
	}
	for rows.Next() {
		var p, h string
		if err := rows.Scan(&p, &h); err != nil {
			rows.Close()
			return err
		}
		c.hashes[p] = h
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = c.db.QueryContext(ctx, `SELECT path, everything FROM generated`)
	if err != nil {
		return fmt.Errorf("read generated files: %w", err)
	}
	for rows.Next() {
		var p string
		var all bool
		if err := rows.Scan(&p, &all); err != nil {
			rows.Close()
			return err
		}
		c.sourcesOf[p] = make(map[string]bool)
		if all {
			c.everything[p] = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = c.db.QueryContext(ctx, `SELECT source, generated FROM edges`)
	if err != nil {
		return fmt.Errorf("read edges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var src, g string
		if err := rows.Scan(&src, &g); err != nil {
			return err
		}
		c.link(src, g)
	}
	return rows.Err()
}

func (c *Cache) link(src, g string) {
	if c.sourcesOf[g] == nil {
		c.sourcesOf[g] = make(map[string]bool)
	}
	c.sourcesOf[g][src] = true
	if c.generatedBy[src] == nil {
		c.generatedBy[src] = make(map[string]bool)
	}
	c.generatedBy[src][g] = true
}

func (c *Cache) unlink(g string) {
	for src := range c.sourcesOf[g] {
		delete(c.generatedBy[src], g)
		if len(c.generatedBy[src]) == 0 {
			delete(c.generatedBy, src)
		}
	}
	delete(c.sourcesOf, g)
	delete(c.everything, g)
}

// reaches reports whether walking the sources of from, recursively, leads
// to target.
func (c *Cache) reaches(from, target string) bool {
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if p == target {
			return true
		}
		for src := range c.sourcesOf[p] {
			if !seen[src] {
				seen[src] = true
				stack = append(stack, src)
			}
		}
	}
	return false
}

// AddGeneratedFile records f and the sources it derives from, replacing
// what was recorded for it before. An edge that would make f depend on
// itself is rejected with a *diag.CacheError and nothing is recorded.
func (c *Cache) AddGeneratedFile(ctx context.Context, f gen.File) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, src := range f.Sources {
		if c.reaches(src, f.Path) {
			return &diag.CacheError{Generated: f.Path, Source: src}
		}
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE generated = ?`, f.Path); err != nil {
		return fmt.Errorf("record %s: %w", f.Path, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO generated (path, everything) VALUES (?, ?)`, f.Path, len(f.Sources) == 0); err != nil {
		return fmt.Errorf("record %s: %w", f.Path, err)
	}
	for _, src := range f.Sources {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO edges (source, generated) VALUES (?, ?)`, src, f.Path); err != nil {
			return fmt.Errorf("record %s: %w", f.Path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	c.unlink(f.Path)
	c.sourcesOf[f.Path] = make(map[string]bool)
	for _, src := range f.Sources {
		c.link(src, f.Path)
	}
	if len(f.Sources) == 0 {
		c.everything[f.Path] = true
	}
	return nil
}

// GeneratedFilesRecursive returns every generated file that derives from
// source, directly or through other generated files, including the files
// recorded as depending on everything.
func (c *Cache) GeneratedFilesRecursive(source string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]bool)
	stack := []string{source}
	for g := range c.everything {
		if !out[g] {
			out[g] = true
			stack = append(stack, g)
		}
	}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for g := range c.generatedBy[p] {
			if !out[g] {
				out[g] = true
				stack = append(stack, g)
			}
		}
	}
	return sorted(out)
}

// Generated returns every recorded generated file.
func (c *Cache) Generated() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := make(map[string]bool, len(c.sourcesOf))
	for g := range c.sourcesOf {
		set[g] = true
	}
	return sorted(set)
}

// Sources returns every source whose hash is recorded.
func (c *Cache) Sources() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := make(map[string]bool, len(c.hashes))
	for p := range c.hashes {
		set[p] = true
	}
	return sorted(set)
}

// HasChanged reports whether the content of source differs from what was
// recorded. Unknown and deleted files have changed.
func (c *Cache) HasChanged(source string) (bool, error) {
	h, err := hashFile(source)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	old, ok := c.hashes[source]
	return !ok || old != h, nil
}

// Record stores the current content hash of each source.
func (c *Cache) Record(ctx context.Context, sources ...string) error {
	hashes := make(map[string]string, len(sources))
	for _, p := range sources {
		h, err := hashFile(p)
		if err != nil {
			return err
		}
		hashes[p] = h
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for p, h := range hashes {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO sources (path, hash) VALUES (?, ?)`, p, h); err != nil {
			return fmt.Errorf("record %s: %w", p, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for p, h := range hashes {
		c.hashes[p] = h
	}
	return nil
}

// RemoveSource forgets source and its edges. Files generated from it stay
// recorded until they are removed or regenerated.
func (c *Cache) RemoveSource(ctx context.Context, source string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE path = ?`, source); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE source = ?`, source); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	delete(c.hashes, source)
	for g := range c.generatedBy[source] {
		delete(c.sourcesOf[g], source)
	}
	delete(c.generatedBy, source)
	return nil
}

// RemoveGenerated forgets a generated file and its edges.
func (c *Cache) RemoveGenerated(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM generated WHERE path = ?`, path); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE generated = ?`, path); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	c.unlink(path)
	return nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

func hashFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(xxh3.Hash(b), 16), nil
}

func sorted(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

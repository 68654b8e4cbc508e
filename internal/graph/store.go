package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a property graph persisted in SQLite. Writes are serialised by
// the store; reads run concurrently against the WAL.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	gen atomic.Uint64
	log *slog.Logger
}

// NodeRef points at a node by identity. When no such node exists yet and
// Stub is set, the stub is inserted so the relationship can still be written.
type NodeRef struct {
	Label Label
	Key   string
	Stub  *Node
}

// Ref returns a reference to n without a stub.
func Ref(n Node) NodeRef { return NodeRef{Label: n.Label, Key: n.Key} }

// StubRef returns a reference to n that inserts n when it is missing.
func StubRef(n Node) NodeRef { return NodeRef{Label: n.Label, Key: n.Key, Stub: &n} }

// EdgeSpec is a relationship to write, addressed by node identity.
type EdgeSpec struct {
	From  NodeRef
	To    NodeRef
	Type  RelType
	Props Props
}

// FileWrite is everything one source file contributes to the graph.
type FileWrite struct {
	Repo     string
	File     Node
	Entities []Node
	Edges    []EdgeSpec
}

// WriteResult reports what a file write changed.
type WriteResult struct {
	FileID  int64
	Nodes   int
	Edges   int
	Removed int
}

// Open opens (creating if needed) the store at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create store dir: %w", ErrStoreUnavailable, err)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Store{db: db, log: slog.Default().With("component", "graph")}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Generation increases after every committed write.
func (s *Store) Generation() uint64 { return s.gen.Load() }

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.gen.Add(1)
	return nil
}

// UpsertRepository records a repository root.
func (s *Store) UpsertRepository(ctx context.Context, repo Repository) error {
	if repo.IndexedAt.IsZero() {
		repo.IndexedAt = time.Now().UTC()
	}
	n := repositoryNode(repo)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := upsertNode(ctx, tx, n)
		return err
	})
}

func repositoryNode(repo Repository) Node {
	name := repo.Name
	if name == "" {
		name = filepath.Base(repo.Path)
	}
	return Node{
		Label:    LabelRepository,
		Key:      RepositoryKey(repo.Path),
		Name:     name,
		FilePath: repo.Path,
		RepoPath: repo.Path,
		Props: Props{
			"is_dependency": repo.IsDependency,
			"indexed_at":    repo.IndexedAt.Format(time.RFC3339),
		},
	}
}

// WriteFile replaces the file's contribution to the graph in one transaction.
// Entities that still exist keep their ids; entities no longer present are
// deleted together with every relationship touching them.
func (s *Store) WriteFile(ctx context.Context, w *FileWrite) (*WriteResult, error) {
	if w == nil || w.Repo == "" || w.File.FilePath == "" {
		return nil, ErrInvalidWrite
	}
	w.File.Label = LabelFile
	if w.File.Key == "" {
		w.File.Key = FileKey(w.File.FilePath)
	}
	if w.File.RepoPath == "" {
		w.File.RepoPath = w.Repo
	}

	res := &WriteResult{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		repo := repositoryNode(Repository{Path: w.Repo, IndexedAt: now})
		repoID, err := ensureNode(ctx, tx, StubRef(repo))
		if err != nil {
			return err
		}
		// an existing repository keeps its other props
		if _, err := tx.ExecContext(ctx, `UPDATE nodes SET props = json_set(props, '$.indexed_at', ?) WHERE id = ?`,
			now.Format(time.RFC3339), repoID); err != nil {
			return fmt.Errorf("touch repository: %w", err)
		}
		fileID, err := upsertNode(ctx, tx, w.File)
		if err != nil {
			return err
		}
		res.FileID = fileID

		keep := make(map[int64]bool, len(w.Entities))
		for _, n := range w.Entities {
			if n.Key == "" {
				return fmt.Errorf("%w: %s %q has no key", ErrInvalidWrite, n.Label, n.Name)
			}
			if n.RepoPath == "" {
				n.RepoPath = w.Repo
			}
			id, err := upsertNode(ctx, tx, n)
			if err != nil {
				return err
			}
			keep[id] = true
			res.Nodes++
		}

		removed, err := deleteStale(ctx, tx, w.File.FilePath, keep)
		if err != nil {
			return err
		}
		res.Removed = removed

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM edges WHERE src IN (SELECT id FROM nodes WHERE file_path = ? AND label IN (`+labelList(ownedLabels())+`))`,
			w.File.FilePath); err != nil {
			return fmt.Errorf("clear outgoing edges: %w", err)
		}

		if err := insertEdge(ctx, tx, repoID, fileID, RelContains, nil); err != nil {
			return err
		}
		ids := map[NodeRef]int64{}
		for _, e := range w.Edges {
			src, err := cachedRef(ctx, tx, ids, e.From)
			if err != nil {
				return err
			}
			dst, err := cachedRef(ctx, tx, ids, e.To)
			if err != nil {
				return err
			}
			if src == 0 || dst == 0 {
				s.log.Debug("skipping edge with missing endpoint", "type", e.Type, "file", w.File.FilePath)
				continue
			}
			if err := insertEdge(ctx, tx, src, dst, e.Type, e.Props); err != nil {
				return err
			}
			res.Edges++
		}
		return pruneOrphans(ctx, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", w.File.FilePath, err)
	}
	return res, nil
}

// DeleteFile removes a file node, everything defined in it and every
// relationship touching those nodes. It reports whether the file was present.
func (s *Store) DeleteFile(ctx context.Context, path string) (bool, error) {
	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := tx.ExecContext(ctx,
			`DELETE FROM nodes WHERE file_path = ? AND label IN (`+labelList(ownedLabels())+`)`, filepath.Clean(path))
		if err != nil {
			return fmt.Errorf("delete file nodes: %w", err)
		}
		removed, _ = r.RowsAffected()
		return pruneOrphans(ctx, tx)
	})
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", path, err)
	}
	return removed > 0, nil
}

// DeleteRepository removes a repository and everything indexed under it.
func (s *Store) DeleteRepository(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := lookupID(ctx, tx, LabelRepository, RepositoryKey(path)); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("repository %s: %w", path, ErrNotFound)
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE repo_path = ?`, path); err != nil {
			return fmt.Errorf("delete repository nodes: %w", err)
		}
		return pruneOrphans(ctx, tx)
	})
}

// Relink moves a CALLS relationship from a placeholder to a resolved target.
type Relink struct {
	Src    int64
	OldDst int64
	To     NodeRef
	Props  Props
}

// RelinkCalls applies relinks in one transaction and returns how many were moved.
func (s *Store) RelinkCalls(ctx context.Context, relinks []Relink) (int, error) {
	if len(relinks) == 0 {
		return 0, nil
	}
	moved := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range relinks {
			dst, err := ensureNode(ctx, tx, r.To)
			if err != nil {
				return err
			}
			if dst == 0 {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM edges WHERE src = ? AND dst = ? AND type = ?`, r.Src, r.OldDst, RelCalls); err != nil {
				return fmt.Errorf("drop placeholder call: %w", err)
			}
			if err := insertEdge(ctx, tx, r.Src, dst, RelCalls, r.Props); err != nil {
				return err
			}
			moved++
		}
		return pruneOrphans(ctx, tx)
	})
	return moved, err
}

func ownedLabels() []Label {
	return append([]Label{LabelFile}, EntityLabels...)
}

func labelList(labels []Label) string {
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = "'" + string(l) + "'"
	}
	return strings.Join(quoted, ",")
}

func upsertNode(ctx context.Context, tx *sql.Tx, n Node) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO nodes (label, key, name, file_path, repo_path, start_line, end_line,
			language, source, complexity, decorators, props)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(label, key) DO UPDATE SET
			name = excluded.name,
			file_path = excluded.file_path,
			repo_path = excluded.repo_path,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			language = excluded.language,
			source = excluded.source,
			complexity = excluded.complexity,
			decorators = excluded.decorators,
			props = excluded.props
		RETURNING id`,
		string(n.Label), n.Key, n.Name, n.FilePath, n.RepoPath, n.StartLine, n.EndLine,
		n.Language, n.Source, n.Complexity, encodeJSON(n.Decorators, "[]"), encodeJSON(n.Props, "{}"),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert %s %q: %w", n.Label, n.Name, err)
	}
	return id, nil
}

func lookupID(ctx context.Context, tx *sql.Tx, label Label, key string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM nodes WHERE label = ? AND key = ?`, string(label), key).Scan(&id)
	return id, err
}

// ensureNode returns the id behind ref, inserting its stub when needed.
// It returns 0 when the node is missing and ref carries no stub.
func ensureNode(ctx context.Context, tx *sql.Tx, ref NodeRef) (int64, error) {
	id, err := lookupID(ctx, tx, ref.Label, ref.Key)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lookup %s: %w", ref.Label, err)
	}
	if ref.Stub == nil {
		return 0, nil
	}
	stub := *ref.Stub
	stub.Label, stub.Key = ref.Label, ref.Key
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (label, key, name, file_path, repo_path, start_line, end_line,
			language, source, complexity, decorators, props)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(label, key) DO NOTHING`,
		string(stub.Label), stub.Key, stub.Name, stub.FilePath, stub.RepoPath, stub.StartLine, stub.EndLine,
		stub.Language, stub.Source, stub.Complexity, encodeJSON(stub.Decorators, "[]"), encodeJSON(stub.Props, "{}"),
	); err != nil {
		return 0, fmt.Errorf("insert stub %s %q: %w", stub.Label, stub.Name, err)
	}
	id, err = lookupID(ctx, tx, ref.Label, ref.Key)
	if err != nil {
		return 0, fmt.Errorf("lookup stub %s: %w", ref.Label, err)
	}
	return id, nil
}

func cachedRef(ctx context.Context, tx *sql.Tx, cache map[NodeRef]int64, ref NodeRef) (int64, error) {
	k := NodeRef{Label: ref.Label, Key: ref.Key}
	if id, ok := cache[k]; ok {
		return id, nil
	}
	id, err := ensureNode(ctx, tx, ref)
	if err != nil {
		return 0, err
	}
	if id != 0 {
		cache[k] = id
	}
	return id, nil
}

func insertEdge(ctx context.Context, tx *sql.Tx, src, dst int64, typ RelType, props Props) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO edges (src, dst, type, props) VALUES (?, ?, ?, ?)
		ON CONFLICT(src, dst, type) DO UPDATE SET props = excluded.props`,
		src, dst, string(typ), encodeJSON(props, "{}"))
	if err != nil {
		return fmt.Errorf("insert %s edge: %w", typ, err)
	}
	return nil
}

func deleteStale(ctx context.Context, tx *sql.Tx, file string, keep map[int64]bool) (int, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM nodes WHERE file_path = ? AND label IN (`+labelList(EntityLabels)+`)`, file)
	if err != nil {
		return 0, fmt.Errorf("list file entities: %w", err)
	}
	var stale []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("delete stale node: %w", err)
		}
	}
	return len(stale), nil
}

// pruneOrphans drops placeholders nothing points at any more.
func pruneOrphans(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM nodes WHERE label IN ('Module', 'External')
		AND NOT EXISTS (SELECT 1 FROM edges WHERE edges.dst = nodes.id)`)
	if err != nil {
		return fmt.Errorf("prune placeholders: %w", err)
	}
	return nil
}

func encodeJSON(v any, empty string) string {
	switch t := v.(type) {
	case nil:
		return empty
	case []string:
		if len(t) == 0 {
			return empty
		}
	case Props:
		if len(t) == 0 {
			return empty
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return empty
	}
	return string(b)
}

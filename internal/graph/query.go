package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// NodeFilter narrows FindNodes. Zero fields match everything.
type NodeFilter struct {
	Name     string
	Labels   []Label
	FilePath string
	RepoPath string
	// Contains matches a substring of the name or the source text.
	Contains string
	Limit    int
}

// UnresolvedCall is a CALLS relationship whose target is an External placeholder.
type UnresolvedCall struct {
	Caller Node
	Target Node
	Props  Props
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(r rowScanner) (Node, error) {
	var (
		n          Node
		label      string
		decorators string
		props      string
	)
	if err := r.Scan(&n.ID, &label, &n.Key, &n.Name, &n.FilePath, &n.RepoPath, &n.StartLine, &n.EndLine,
		&n.Language, &n.Source, &n.Complexity, &decorators, &props); err != nil {
		return Node{}, err
	}
	n.Label = Label(label)
	if decorators != "" && decorators != "[]" {
		_ = json.Unmarshal([]byte(decorators), &n.Decorators)
	}
	if props != "" && props != "{}" {
		_ = json.Unmarshal([]byte(props), &n.Props)
	}
	return n, nil
}

func (s *Store) queryNodes(ctx context.Context, query string, args ...any) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Node returns the node with the given id.
func (s *Store) Node(ctx context.Context, id int64) (Node, error) {
	n, err := scanNode(s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	return n, err
}

// NodeByKey returns the node with the given identity.
func (s *Store) NodeByKey(ctx context.Context, label Label, key string) (Node, error) {
	n, err := scanNode(s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE label = ? AND key = ?`, string(label), key))
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, fmt.Errorf("%s: %w", label, ErrNotFound)
	}
	return n, err
}

// FindNodes lists nodes matching f ordered by file and line.
func (s *Store) FindNodes(ctx context.Context, f NodeFilter) ([]Node, error) {
	var (
		where []string
		args  []any
	)
	if f.Name != "" {
		where = append(where, "name = ?")
		args = append(args, f.Name)
	}
	if len(f.Labels) > 0 {
		where = append(where, "label IN ("+labelList(f.Labels)+")")
	}
	if f.FilePath != "" {
		where = append(where, "file_path = ?")
		args = append(args, filepath.Clean(f.FilePath))
	}
	if f.RepoPath != "" {
		where = append(where, "repo_path = ?")
		args = append(args, filepath.Clean(f.RepoPath))
	}
	if f.Contains != "" {
		like := "%" + escapeLike(f.Contains) + "%"
		where = append(where, `(name LIKE ? ESCAPE '\' OR source LIKE ? ESCAPE '\')`)
		args = append(args, like, like)
	}
	q := `SELECT ` + nodeColumns + ` FROM nodes`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY file_path, start_line, id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return s.queryNodes(ctx, q, args...)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Neighbors returns nodes one relationship away from id. With no types
// given, every relationship type is followed.
func (s *Store) Neighbors(ctx context.Context, id int64, dir Direction, types ...RelType) ([]Neighbor, error) {
	near, far := "e.src", "e.dst"
	if dir == Incoming {
		near, far = "e.dst", "e.src"
	}
	q := `SELECT e.src, e.dst, e.type, e.props, ` + prefixed("n", nodeColumns) + `
		FROM edges e JOIN nodes n ON n.id = ` + far + `
		WHERE ` + near + ` = ?`
	args := []any{id}
	if len(types) > 0 {
		ph := make([]string, len(types))
		for i, t := range types {
			ph[i] = "?"
			args = append(args, string(t))
		}
		q += " AND e.type IN (" + strings.Join(ph, ",") + ")"
	}
	q += " ORDER BY n.file_path, n.start_line, n.id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("neighbors of %d: %w", id, err)
	}
	defer rows.Close()

	var out []Neighbor
	for rows.Next() {
		var (
			e     Edge
			typ   string
			props string
		)
		var n Node
		var label, decorators, nprops string
		if err := rows.Scan(&e.Src, &e.Dst, &typ, &props,
			&n.ID, &label, &n.Key, &n.Name, &n.FilePath, &n.RepoPath, &n.StartLine, &n.EndLine,
			&n.Language, &n.Source, &n.Complexity, &decorators, &nprops); err != nil {
			return nil, err
		}
		e.Type = RelType(typ)
		n.Label = Label(label)
		if props != "{}" {
			_ = json.Unmarshal([]byte(props), &e.Props)
		}
		if decorators != "[]" {
			_ = json.Unmarshal([]byte(decorators), &n.Decorators)
		}
		if nprops != "{}" {
			_ = json.Unmarshal([]byte(nprops), &n.Props)
		}
		out = append(out, Neighbor{From: id, Node: n, Edge: e})
	}
	return out, rows.Err()
}

func prefixed(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// Definitions lists the named definitions of a repository.
func (s *Store) Definitions(ctx context.Context, repo string) ([]Definition, error) {
	nodes, err := s.FindNodes(ctx, NodeFilter{
		RepoPath: repo,
		Labels:   []Label{LabelClass, LabelFunction, LabelInterface, LabelStruct, LabelEnum, LabelUnion, LabelMacro},
	})
	if err != nil {
		return nil, fmt.Errorf("definitions of %s: %w", repo, err)
	}
	defs := make([]Definition, 0, len(nodes))
	for _, n := range nodes {
		d := Definition{Name: n.Name, Label: n.Label, FilePath: n.FilePath, StartLine: n.StartLine}
		if c, ok := n.Props["class"].(string); ok {
			d.Container = c
		}
		defs = append(defs, d)
	}
	return defs, nil
}

// FileHashes maps each indexed file of repo to its stored content hash.
func (s *Store) FileHashes(ctx context.Context, repo string) (map[string]string, error) {
	files, err := s.FindNodes(ctx, NodeFilter{RepoPath: repo, Labels: []Label{LabelFile}})
	if err != nil {
		return nil, fmt.Errorf("files of %s: %w", repo, err)
	}
	out := make(map[string]string, len(files))
	for _, f := range files {
		h, _ := f.Props["hash"].(string)
		out[f.FilePath] = h
	}
	return out, nil
}

// UnresolvedCalls lists CALLS relationships from repo into External placeholders.
func (s *Store) UnresolvedCalls(ctx context.Context, repo string) ([]UnresolvedCall, error) {
	callers, err := s.queryNodes(ctx, `
		SELECT DISTINCT `+prefixed("n", nodeColumns)+`
		FROM nodes n
		JOIN edges e ON e.src = n.id AND e.type = ?
		JOIN nodes x ON x.id = e.dst AND x.label = ?
		WHERE n.repo_path = ?`, string(RelCalls), string(LabelExternal), filepath.Clean(repo))
	if err != nil {
		return nil, fmt.Errorf("unresolved calls of %s: %w", repo, err)
	}
	var out []UnresolvedCall
	for _, c := range callers {
		targets, err := s.Neighbors(ctx, c.ID, Outgoing, RelCalls)
		if err != nil {
			return nil, err
		}
		for _, t := range targets {
			if t.Node.Label == LabelExternal {
				out = append(out, UnresolvedCall{Caller: c, Target: t.Node, Props: t.Edge.Props})
			}
		}
	}
	return out, nil
}

// UncalledFunctions lists functions of repo (all repos when empty) with no incoming CALLS.
func (s *Store) UncalledFunctions(ctx context.Context, repo string) ([]Node, error) {
	q := `SELECT ` + nodeColumns + ` FROM nodes
		WHERE label = ? AND NOT EXISTS (
			SELECT 1 FROM edges WHERE edges.dst = nodes.id AND edges.type = ?)`
	args := []any{string(LabelFunction), string(RelCalls)}
	if repo != "" {
		q += " AND repo_path = ?"
		args = append(args, filepath.Clean(repo))
	}
	q += " ORDER BY file_path, start_line"
	return s.queryNodes(ctx, q, args...)
}

// MostComplex lists functions by descending cyclomatic complexity.
func (s *Store) MostComplex(ctx context.Context, repo string, limit int) ([]Node, error) {
	q := `SELECT ` + nodeColumns + ` FROM nodes WHERE label = ?`
	args := []any{string(LabelFunction)}
	if repo != "" {
		q += " AND repo_path = ?"
		args = append(args, filepath.Clean(repo))
	}
	q += " ORDER BY complexity DESC, name"
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryNodes(ctx, q, args...)
}

// Repositories lists the indexed repositories.
func (s *Store) Repositories(ctx context.Context) ([]Repository, error) {
	nodes, err := s.FindNodes(ctx, NodeFilter{Labels: []Label{LabelRepository}})
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	out := make([]Repository, 0, len(nodes))
	for _, n := range nodes {
		r := Repository{Path: n.FilePath, Name: n.Name}
		r.IsDependency, _ = n.Props["is_dependency"].(bool)
		if ts, ok := n.Props["indexed_at"].(string); ok {
			r.IndexedAt, _ = time.Parse(time.RFC3339, ts)
		}
		out = append(out, r)
	}
	return out, nil
}

// Stats counts nodes by label and relationships by type, optionally for one repository.
func (s *Store) Stats(ctx context.Context, repo string) (*Stats, error) {
	st := &Stats{Nodes: map[Label]int{}, Edges: map[RelType]int{}}

	nq := `SELECT label, COUNT(*) FROM nodes`
	eq := `SELECT e.type, COUNT(*) FROM edges e JOIN nodes n ON n.id = e.src`
	var args []any
	if repo != "" {
		repo = filepath.Clean(repo)
		if _, err := s.NodeByKey(ctx, LabelRepository, RepositoryKey(repo)); err != nil {
			return nil, err
		}
		nq += ` WHERE repo_path = ?`
		eq += ` WHERE n.repo_path = ?`
		args = append(args, repo)
	}
	nq += ` GROUP BY label`
	eq += ` GROUP BY e.type`

	if err := s.countInto(ctx, nq, args, func(k string, c int) { st.Nodes[Label(k)] = c }); err != nil {
		return nil, fmt.Errorf("count nodes: %w", err)
	}
	if err := s.countInto(ctx, eq, args, func(k string, c int) { st.Edges[RelType(k)] = c }); err != nil {
		return nil, fmt.Errorf("count edges: %w", err)
	}
	return st, nil
}

func (s *Store) countInto(ctx context.Context, q string, args []any, set func(string, int)) error {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			k string
			c int
		)
		if err := rows.Scan(&k, &c); err != nil {
			return err
		}
		set(k, c)
	}
	return rows.Err()
}

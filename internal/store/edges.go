package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/biblioflow/backend/internal/domain"
)

// recordEdges appends citation edges, ignoring duplicates. Edges are
// append-only; nothing in the pipeline deletes them.
func recordEdges(ctx context.Context, q dbtx, edges []domain.CitationEdge) error {
	for _, e := range edges {
		if e.SourceID == "" || e.TargetID == "" || e.SourceID == e.TargetID {
			continue
		}
		_, err := q.ExecContext(ctx,
			`INSERT OR IGNORE INTO citation_edges (source_openalex_id, target_openalex_id, relationship_type)
			 VALUES (?, ?, ?)`, e.SourceID, e.TargetID, string(e.Kind))
		if err != nil {
			return wrapDBError("record edge", err)
		}
	}
	return nil
}

// RecordEdges appends (source, target, kind) triples, ignoring duplicates.
func (s *Store) RecordEdges(ctx context.Context, sourceID string, targetIDs []string, kind domain.EdgeKind) error {
	edges := make([]domain.CitationEdge, 0, len(targetIDs))
	for _, t := range targetIDs {
		edges = append(edges, domain.CitationEdge{SourceID: sourceID, TargetID: t, Kind: kind})
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return recordEdges(ctx, tx, edges)
	})
}

// ListEdges returns every recorded edge, optionally restricted to one
// relation kind. Used by graph-export and the bundle writer.
func (s *Store) ListEdges(ctx context.Context, kind domain.EdgeKind) ([]domain.CitationEdge, error) {
	query := "SELECT source_openalex_id, target_openalex_id, relationship_type FROM citation_edges"
	var args []any
	if kind != "" {
		query += " WHERE relationship_type = ?"
		args = append(args, string(kind))
	}
	query += " ORDER BY source_openalex_id, target_openalex_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list edges", err)
	}
	defer rows.Close()

	var edges []domain.CitationEdge
	for rows.Next() {
		var e domain.CitationEdge
		var k string
		if err := rows.Scan(&e.SourceID, &e.TargetID, &k); err != nil {
			return nil, wrapDBError("list edges", err)
		}
		e.Kind = domain.EdgeKind(k)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// EdgeCount returns the total number of recorded citation edges.
func (s *Store) EdgeCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM citation_edges").Scan(&n)
	return n, wrapDBError("edge count", err)
}

// BackfillEdges materializes edges for enriched and downloaded rows that
// carry expansion provenance (source_work_id + relation_type) but whose edge
// may be missing, e.g. after a partial import. Returns edges written.
func (s *Store) BackfillEdges(ctx context.Context) (int64, error) {
	var written int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"enriched", "downloaded"} {
			rows, err := tx.QueryContext(ctx, fmt.Sprintf(
				`SELECT openalex_id, source_work_id, relation_type FROM %s
				 WHERE openalex_id != '' AND source_work_id != '' AND relation_type != ''`, table))
			if err != nil {
				return wrapDBError("backfill select", err)
			}
			var edges []domain.CitationEdge
			for rows.Next() {
				var work, source, rel string
				if err := rows.Scan(&work, &source, &rel); err != nil {
					rows.Close()
					return wrapDBError("backfill scan", err)
				}
				edges = append(edges, domain.CitationEdge{
					SourceID: source,
					TargetID: work,
					Kind:     domain.EdgeKind(rel),
				})
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return wrapDBError("backfill select", err)
			}
			for _, e := range edges {
				if e.SourceID == e.TargetID || e.TargetID == "" {
					continue
				}
				res, err := tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO citation_edges (source_openalex_id, target_openalex_id, relationship_type)
					 VALUES (?, ?, ?)`, e.SourceID, e.TargetID, string(e.Kind))
				if err != nil {
					return wrapDBError("backfill insert", err)
				}
				if n, err := res.RowsAffected(); err == nil {
					written += n
				}
			}
		}
		return nil
	})
	return written, err
}

// GraphNode is one node of a graph slice, annotated from the catalog when
// the work is known; unknown targets appear with an id only.
type GraphNode struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Year   *int   `json:"year,omitempty"`
	Degree int    `json:"degree"`
}

// GraphFilter restricts a graph slice.
type GraphFilter struct {
	Limit    int
	Kind     domain.EdgeKind // "" = both
	Year     *int
	CorpusID *int64
}

// GraphSlice returns a bounded subgraph: BFS seeded at the highest-degree
// nodes, stopping once Limit nodes are included. Edges between included
// nodes are returned alongside.
func (s *Store) GraphSlice(ctx context.Context, f GraphFilter) ([]GraphNode, []domain.CitationEdge, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}

	query := "SELECT source_openalex_id, target_openalex_id, relationship_type FROM citation_edges"
	var args []any
	if f.Kind != "" {
		query += " WHERE relationship_type = ?"
		args = append(args, string(f.Kind))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, wrapDBError("graph slice", err)
	}
	defer rows.Close()

	var all []domain.CitationEdge
	adjacency := map[string][]string{}
	degree := map[string]int{}
	for rows.Next() {
		var e domain.CitationEdge
		var kind string
		if err := rows.Scan(&e.SourceID, &e.TargetID, &kind); err != nil {
			return nil, nil, wrapDBError("graph slice", err)
		}
		e.Kind = domain.EdgeKind(kind)
		all = append(all, e)
		adjacency[e.SourceID] = append(adjacency[e.SourceID], e.TargetID)
		adjacency[e.TargetID] = append(adjacency[e.TargetID], e.SourceID)
		degree[e.SourceID]++
		degree[e.TargetID]++
	}
	if err := rows.Err(); err != nil {
		return nil, nil, wrapDBError("graph slice", err)
	}

	allowed, err := s.allowedNodes(ctx, f)
	if err != nil {
		return nil, nil, err
	}

	// Seed order: highest degree first, ties by id for determinism.
	seeds := make([]string, 0, len(degree))
	for id := range degree {
		if allowed == nil || allowed[id] {
			seeds = append(seeds, id)
		}
	}
	sort.Slice(seeds, func(i, j int) bool {
		if degree[seeds[i]] != degree[seeds[j]] {
			return degree[seeds[i]] > degree[seeds[j]]
		}
		return seeds[i] < seeds[j]
	})

	included := map[string]bool{}
	var frontier []string
	for _, seed := range seeds {
		if len(included) >= f.Limit {
			break
		}
		if included[seed] {
			continue
		}
		frontier = frontier[:0]
		frontier = append(frontier, seed)
		for len(frontier) > 0 && len(included) < f.Limit {
			node := frontier[0]
			frontier = frontier[1:]
			if included[node] {
				continue
			}
			if allowed != nil && !allowed[node] {
				continue
			}
			included[node] = true
			neighbors := adjacency[node]
			sort.Strings(neighbors)
			frontier = append(frontier, neighbors...)
		}
	}

	var edges []domain.CitationEdge
	for _, e := range all {
		if included[e.SourceID] && included[e.TargetID] {
			edges = append(edges, e)
		}
	}

	nodes, err := s.annotateNodes(ctx, included, degree)
	if err != nil {
		return nil, nil, err
	}
	return nodes, edges, nil
}

// allowedNodes returns the openalex ids passing the year/corpus filters, or
// nil when no filter applies.
func (s *Store) allowedNodes(ctx context.Context, f GraphFilter) (map[string]bool, error) {
	if f.Year == nil && f.CorpusID == nil {
		return nil, nil
	}
	allowed := map[string]bool{}
	for _, table := range []string{"enriched", "downloaded"} {
		query := fmt.Sprintf("SELECT openalex_id FROM %s WHERE openalex_id != ''", table)
		var args []any
		if f.Year != nil {
			query += " AND year = ?"
			args = append(args, *f.Year)
		}
		if f.CorpusID != nil {
			query += " AND corpus_id = ?"
			args = append(args, *f.CorpusID)
		}
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, wrapDBError("graph filter", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, wrapDBError("graph filter", err)
			}
			allowed[id] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, wrapDBError("graph filter", err)
		}
	}
	return allowed, nil
}

// annotateNodes attaches title/year from the catalog to included node ids.
func (s *Store) annotateNodes(ctx context.Context, included map[string]bool, degree map[string]int) ([]GraphNode, error) {
	nodes := make([]GraphNode, 0, len(included))
	ids := make([]string, 0, len(included))
	for id := range included {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	meta := map[string]*GraphNode{}
	if len(ids) > 0 {
		ph := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		for _, table := range []string{"downloaded", "enriched"} {
			query := fmt.Sprintf(
				"SELECT openalex_id, title, year FROM %s WHERE openalex_id IN (%s)", table, ph)
			args := make([]any, len(ids))
			for i, id := range ids {
				args[i] = id
			}
			rows, err := s.db.QueryContext(ctx, query, args...)
			if err != nil {
				return nil, wrapDBError("graph annotate", err)
			}
			for rows.Next() {
				var id, title string
				var year sql.NullInt64
				if err := rows.Scan(&id, &title, &year); err != nil {
					rows.Close()
					return nil, wrapDBError("graph annotate", err)
				}
				if _, seen := meta[id]; seen {
					continue
				}
				node := &GraphNode{ID: id, Title: title}
				if year.Valid {
					y := int(year.Int64)
					node.Year = &y
				}
				meta[id] = node
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return nil, wrapDBError("graph annotate", err)
			}
		}
	}

	for _, id := range ids {
		node := GraphNode{ID: id}
		if m, ok := meta[id]; ok {
			node = *m
		}
		node.Degree = degree[id]
		nodes = append(nodes, node)
	}
	return nodes, nil
}

package warehouse

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// PassageMatch is one similarity search hit. Similarity is cosine
// similarity in [-1, 1], larger is closer.
type PassageMatch struct {
	PassageID  int64
	DocumentID int64
	Text       string
	SentTS     string
	Similarity float64
}

// SearchPassages returns the limit passages closest to the query
// embedding by cosine distance.
func (w *Warehouse) SearchPassages(ctx context.Context, embedding []float32, limit int) ([]PassageMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	vector := pgvector.NewVector(embedding)

	rows, err := w.pool.Query(ctx,
		`SELECT pe.id, p.document_id, p.text, COALESCE(d.sent_ts::text, ''),
		        1 - (pe.embedding <=> $1) AS similarity
		 FROM passage_embedding pe
		 JOIN passage p ON pe.passage_id = p.id
		 JOIN document d ON p.document_id = d.id
		 ORDER BY pe.embedding <=> $1 ASC
		 LIMIT $2`,
		vector, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search passages: %w", err)
	}
	defer rows.Close()

	matches := make([]PassageMatch, 0, limit)
	for rows.Next() {
		var m PassageMatch
		if err := rows.Scan(&m.PassageID, &m.DocumentID, &m.Text, &m.SentTS, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return matches, nil
}

package similarity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"ideahub/internal/domain"
)

// Embedder turns text into a fixed-length vector. Implementations may be
// unavailable; callers degrade rather than fail the pipeline.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Index stores entity embeddings and answers nearest-neighbor queries by
// cosine similarity. Vectors live beside the relational rows as JSON arrays.
type Index struct {
	DB  *sql.DB
	Now func() time.Time
}

type Match struct {
	EntityID string
	Score    float64
}

func (ix Index) now() time.Time {
	if ix.Now != nil {
		return ix.Now()
	}
	return time.Now()
}

// Put stores the embedding for an entity. A row that already exists is kept
// as-is; embeddings are immutable once written.
func (ix Index) Put(ctx context.Context, entity domain.EntityRef, vector []float32, model, text string) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty vector for %s/%s", entity.Kind, entity.ID)
	}
	data, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("marshal vector: %w", err)
	}
	ts := ix.now().UTC().Format(time.RFC3339)
	_, err = ix.DB.ExecContext(ctx, `INSERT INTO embeddings(id,entity_kind,entity_id,vector_json,model,text,created_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(entity_kind,entity_id) DO NOTHING`,
		"emb-"+uuid.NewString(), string(entity.Kind), entity.ID, string(data), model, text, ts)
	return err
}

// Get returns the stored embedding for an entity.
func (ix Index) Get(ctx context.Context, entity domain.EntityRef) (domain.Embedding, error) {
	var (
		e          domain.Embedding
		kind       string
		vectorJSON string
	)
	err := ix.DB.QueryRowContext(ctx, `SELECT id,entity_kind,entity_id,vector_json,model,text,created_at FROM embeddings WHERE entity_kind=? AND entity_id=?`,
		string(entity.Kind), entity.ID).Scan(&e.ID, &kind, &e.Entity.ID, &vectorJSON, &e.Model, &e.Text, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, fmt.Errorf("embedding for %s/%s: not found", entity.Kind, entity.ID)
	}
	if err != nil {
		return e, err
	}
	e.Entity.Kind = domain.EntityKind(kind)
	if err := json.Unmarshal([]byte(vectorJSON), &e.Vector); err != nil {
		return e, fmt.Errorf("decode vector: %w", err)
	}
	return e, nil
}

// Search ranks stored embeddings of a kind against the query vector. Results
// keep only scores at or above floor, ordered by descending score and then
// ascending entity id so ties resolve deterministically. selfID is excluded.
func (ix Index) Search(ctx context.Context, kind domain.EntityKind, query []float32, floor float64, limit int, selfID string) ([]Match, error) {
	rows, err := ix.DB.QueryContext(ctx, `SELECT entity_id, vector_json FROM embeddings WHERE entity_kind=?`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			id         string
			vectorJSON string
		)
		if err := rows.Scan(&id, &vectorJSON); err != nil {
			return nil, err
		}
		if id == selfID {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(vectorJSON), &vec); err != nil {
			return nil, fmt.Errorf("decode vector for %s: %w", id, err)
		}
		score := Cosine(query, vec)
		if score < floor {
			continue
		}
		matches = append(matches, Match{EntityID: id, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].EntityID < matches[j].EntityID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Cosine returns the cosine similarity of two vectors, 0 when either has no
// magnitude or the dimensions disagree.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

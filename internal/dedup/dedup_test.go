package dedup_test

import (
	"context"
	"errors"
	"testing"

	"ideahub/internal/db"
	"ideahub/internal/dedup"
	"ideahub/internal/migrate"
	"ideahub/internal/similarity"
)

type fixedEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors[text], nil
}

func (f fixedEmbedder) Model() string { return "fixed" }

func newDetector(t *testing.T, emb similarity.Embedder) dedup.Detector {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return dedup.Detector{
		Index:    similarity.Index{DB: conn},
		Embedder: emb,
		Thresholds: dedup.Thresholds{
			Duplicate:     0.8,
			Improvement:   0.5,
			Floor:         0.1,
			MaxCandidates: 5,
		},
	}
}

func TestClassifyWithoutEmbedder(t *testing.T) {
	d := newDetector(t, nil)
	res, err := d.Classify(context.Background(), "idea-1", "anything")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if res.Outcome != dedup.Unique || !res.Skipped {
		t.Fatalf("result = %+v, want skipped unique", res)
	}
}

func TestClassifyEmbedderError(t *testing.T) {
	wantErr := errors.New("backend down")
	d := newDetector(t, fixedEmbedder{err: wantErr})
	res, err := d.Classify(context.Background(), "idea-1", "anything")
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if res.Outcome != dedup.Unique || !res.Skipped {
		t.Fatalf("result = %+v, want skipped unique", res)
	}
}

func TestClassifyThresholds(t *testing.T) {
	cases := []struct {
		name    string
		vector  []float32 // compared against the base vector {1, 0}
		outcome dedup.Outcome
		parent  string
	}{
		{"exact match is duplicate", []float32{1, 0}, dedup.Duplicate, "idea-base"},
		{"close match is improvement", []float32{1, 1}, dedup.Improvement, "idea-base"}, // cosine ~0.707
		{"weak match is unique", []float32{1, 4}, dedup.Unique, ""},                     // cosine ~0.24
		{"orthogonal is unique", []float32{0, 1}, dedup.Unique, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			emb := fixedEmbedder{vectors: map[string][]float32{
				"base":      {1, 0},
				"candidate": tc.vector,
			}}
			d := newDetector(t, emb)
			ctx := context.Background()
			if _, err := d.Classify(ctx, "idea-base", "base"); err != nil {
				t.Fatalf("seed base: %v", err)
			}
			res, err := d.Classify(ctx, "idea-candidate", "candidate")
			if err != nil {
				t.Fatalf("classify: %v", err)
			}
			if res.Outcome != tc.outcome || res.ParentID != tc.parent {
				t.Fatalf("result = %+v, want outcome %s parent %q", res, tc.outcome, tc.parent)
			}
			if res.Skipped {
				t.Fatalf("result marked skipped: %+v", res)
			}
		})
	}
}

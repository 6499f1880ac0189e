package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"streamocr-worker-go/internal/models"
)

// Store keeps one guarded OCR record per source. Every update of a source is a
// single read-guard-write transaction on that source's row.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger, now: time.Now}
}

// StoreResult offers candidate for sourceID. It returns the document that is
// stored afterwards: candidate when accepted, the prior document otherwise.
func (s *Store) StoreResult(ctx context.Context, sourceID string, candidate models.OcrDocument, g Guards) (models.OcrDocument, Outcome, error) {
	candidate.Aggregate.Timestamp = normalize(candidate.Aggregate.Timestamp)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.OcrDocument{}, "", fmt.Errorf("begin result transaction: %w", err)
	}
	defer tx.Rollback()

	prior, err := document(ctx, tx, sourceID)
	if err != nil {
		return models.OcrDocument{}, "", err
	}
	var last *models.OcrAggregate
	if prior != nil {
		last = &prior.Aggregate
	}

	outcome, err := evaluate(last, candidate.Aggregate, g)
	if err != nil {
		return models.OcrDocument{}, "", err
	}
	if outcome != Accepted {
		s.logger.Info().
			Str("source_id", sourceID).
			Str("outcome", string(outcome)).
			Float64("value", candidate.Aggregate.Value).
			Float64("last_value", last.Value).
			Msg("Reading rejected by guard")
		return *prior, outcome, nil
	}

	resultsJSON, err := json.Marshal(nonNil(candidate.Results))
	if err != nil {
		return models.OcrDocument{}, "", fmt.Errorf("encode region results: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ocr_results (source_id, value, confidence, captured_at, fingerprint, results, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			value = excluded.value,
			confidence = excluded.confidence,
			captured_at = excluded.captured_at,
			fingerprint = excluded.fingerprint,
			results = excluded.results,
			updated_at = excluded.updated_at`,
		sourceID,
		candidate.Aggregate.Value,
		candidate.Aggregate.Confidence,
		candidate.Aggregate.Timestamp.UnixMilli(),
		candidate.Aggregate.ImageFingerprint,
		string(resultsJSON),
		s.now().UnixMilli(),
	)
	if err != nil {
		return models.OcrDocument{}, "", fmt.Errorf("write result: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.OcrDocument{}, "", fmt.Errorf("commit result: %w", err)
	}
	return candidate, Accepted, nil
}

// Document returns the stored record of a source, or nil if there is none
func (s *Store) Document(ctx context.Context, sourceID string) (*models.OcrDocument, error) {
	return document(ctx, s.db, sourceID)
}

// Aggregate returns the stored aggregate of a source, or nil if there is none
func (s *Store) Aggregate(ctx context.Context, sourceID string) (*models.OcrAggregate, error) {
	doc, err := s.Document(ctx, sourceID)
	if err != nil || doc == nil {
		return nil, err
	}
	return &doc.Aggregate, nil
}

// Documents returns every stored record keyed by source id
func (s *Store) Documents(ctx context.Context) (map[string]models.OcrDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, value, confidence, captured_at, fingerprint, results FROM ocr_results`)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.OcrDocument)
	for rows.Next() {
		id, doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out[id] = doc
	}
	return out, rows.Err()
}

// Delete removes the record of a source
func (s *Store) Delete(ctx context.Context, sourceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ocr_results WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("delete result: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func document(ctx context.Context, q queryer, sourceID string) (*models.OcrDocument, error) {
	row := q.QueryRowContext(ctx,
		`SELECT source_id, value, confidence, captured_at, fingerprint, results FROM ocr_results WHERE source_id = ?`,
		sourceID)
	_, doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func scanDocument(sc scanner) (string, models.OcrDocument, error) {
	var (
		id          string
		doc         models.OcrDocument
		capturedAt  int64
		resultsJSON string
	)
	err := sc.Scan(&id, &doc.Aggregate.Value, &doc.Aggregate.Confidence, &capturedAt, &doc.Aggregate.ImageFingerprint, &resultsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return "", doc, err
	}
	if err != nil {
		return "", doc, fmt.Errorf("scan result: %w", err)
	}
	doc.Aggregate.Timestamp = time.UnixMilli(capturedAt).UTC()
	if err := json.Unmarshal([]byte(resultsJSON), &doc.Results); err != nil {
		return "", doc, fmt.Errorf("decode region results of %s: %w", id, err)
	}
	return id, doc, nil
}

// normalize truncates t to the stored precision so returned and re-read aggregates compare equal
func normalize(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}

func nonNil(r []models.RegionResult) []models.RegionResult {
	if r == nil {
		return []models.RegionResult{}
	}
	return r
}

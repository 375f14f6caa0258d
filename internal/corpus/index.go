/*
Package corpus searches the processed feedback corpus.

Labeled events are loaded into an in-memory Bleve index (BM25 scoring) so
operators can find earlier verdicts by anomaly type, recovery action or the
words they used in their notes:
  - anomaly_type, recovery_action and operator_notes are analyzed text.
  - fault_id, mission_phase and label are exact keywords.
*/
package corpus

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/astraguard/astraguard-cli/internal/feedback"
)

// DefaultLimit caps results when the caller passes no limit.
const DefaultLimit = 10

// Hit is one matching event.
type Hit struct {
	Event feedback.Event
	Score float64
}

// Index is an in-memory full-text index over processed events.
type Index struct {
	index  bleve.Index
	events []feedback.Event
	mu     sync.RWMutex
}

// NewIndex builds an index over events. Document ids are positions in
// events, so repeated fault ids in an append-mode archive stay distinct.
func NewIndex(events []feedback.Event) (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create corpus index: %w", err)
	}

	batch := idx.NewBatch()
	for i, e := range events {
		doc := map[string]interface{}{
			feedback.FieldFaultID:        e.FaultID,
			feedback.FieldAnomalyType:    e.AnomalyType,
			feedback.FieldRecoveryAction: e.RecoveryAction,
			feedback.FieldMissionPhase:   e.MissionPhase,
			feedback.FieldLabel:          string(e.Label),
			feedback.FieldOperatorNotes:  e.OperatorNotes,
		}
		if err := batch.Index(strconv.Itoa(i), doc); err != nil {
			idx.Close()
			return nil, fmt.Errorf("failed to index event %s: %w", e.FaultID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		idx.Close()
		return nil, fmt.Errorf("failed to batch index events: %w", err)
	}

	return &Index{index: idx, events: events}, nil
}

func buildMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	for _, field := range []string{
		feedback.FieldAnomalyType,
		feedback.FieldRecoveryAction,
		feedback.FieldOperatorNotes,
	} {
		doc.AddFieldMappingsAt(field, bleve.NewTextFieldMapping())
	}

	for _, field := range []string{
		feedback.FieldFaultID,
		feedback.FieldMissionPhase,
		feedback.FieldLabel,
	} {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = keyword.Name
		doc.AddFieldMappingsAt(field, fm)
	}

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// Search returns events matching text, best first. An empty text matches
// every event. A non-empty label restricts hits to that verdict.
func (i *Index) Search(text string, label feedback.Label, limit int) ([]Hit, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultLimit
	}

	var q query.Query
	if text == "" {
		q = bleve.NewMatchAllQuery()
	} else {
		q = bleve.NewMatchQuery(text)
	}
	if label != "" {
		lq := bleve.NewTermQuery(string(label))
		lq.SetField(feedback.FieldLabel)
		q = bleve.NewConjunctionQuery(q, lq)
	}

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("corpus search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		pos, err := strconv.Atoi(h.ID)
		if err != nil || pos < 0 || pos >= len(i.events) {
			continue
		}
		hits = append(hits, Hit{Event: i.events[pos], Score: h.Score})
	}
	return hits, nil
}

// Count returns the number of indexed events.
func (i *Index) Count() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	n, err := i.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("failed to get doc count: %w", err)
	}
	return n, nil
}

// Close releases the index.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.index != nil {
		return i.index.Close()
	}
	return nil
}

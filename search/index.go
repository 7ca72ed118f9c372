// Package search keeps a full-text index of published poems.
package search

import (
	"errors"
	"fmt"
	"time"

	"bluetry/models"
	"bluetry/utils"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Index wraps a Bleve index.
type Index struct {
	index bleve.Index
}

// IndexedPoem is the document stored per published poem.
type IndexedPoem struct {
	ID         string
	Title      string
	Content    string
	AuthorName string
	CreatedAt  time.Time
}

// Result is one search hit.
type Result struct {
	ID         string              `json:"id"`
	Title      string              `json:"title"`
	AuthorName string              `json:"authorName"`
	Score      float64             `json:"score"`
	Fragments  map[string][]string `json:"fragments,omitempty"`
}

// Open opens the index at path, creating it if needed.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return &Index{index: idx}, nil
}

// OpenMem creates an in-memory index.
func OpenMem() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &Index{index: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	titleField := bleve.NewTextFieldMapping()
	titleField.Analyzer = "en"

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = "en"

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = "keyword"

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("ID", keywordField)
	docMapping.AddFieldMappingsAt("Title", titleField)
	docMapping.AddFieldMappingsAt("Content", contentField)
	docMapping.AddFieldMappingsAt("AuthorName", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("CreatedAt", bleve.NewDateTimeFieldMapping())

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

func (i *Index) Close() error {
	return i.index.Close()
}

// Sync indexes a published poem and removes an unpublished one.
func (i *Index) Sync(p *models.Poem) error {
	if !p.Published {
		return i.Delete(p.ID)
	}
	return i.index.Index(p.ID, toDocument(p))
}

// Delete removes a poem from the index.
func (i *Index) Delete(id string) error {
	return i.index.Delete(id)
}

// Search runs a query-string search with highlighted fragments.
func (i *Index) Search(queryStr string, limit int) ([]Result, error) {
	query := bleve.NewQueryStringQuery(queryStr)
	req := bleve.NewSearchRequestOptions(query, limit, 0, false)
	req.Highlight = bleve.NewHighlightWithStyle("html")
	req.Fields = []string{"Title", "AuthorName"}

	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := Result{ID: hit.ID, Score: hit.Score, Fragments: hit.Fragments}
		if title, ok := hit.Fields["Title"].(string); ok {
			r.Title = title
		}
		if author, ok := hit.Fields["AuthorName"].(string); ok {
			r.AuthorName = author
		}
		results = append(results, r)
	}
	return results, nil
}

// Rebuild indexes every given poem in one batch.
func (i *Index) Rebuild(poems []models.Poem) error {
	batch := i.index.NewBatch()
	for idx := range poems {
		p := &poems[idx]
		if !p.Published {
			continue
		}
		if err := batch.Index(p.ID, toDocument(p)); err != nil {
			return fmt.Errorf("batch index %s: %w", p.ID, err)
		}
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Count returns the number of indexed poems.
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}

func toDocument(p *models.Poem) *IndexedPoem {
	return &IndexedPoem{
		ID:         p.ID,
		Title:      p.Title,
		Content:    utils.StripHTML(p.Content),
		AuthorName: p.AuthorName,
		CreatedAt:  p.CreatedAt,
	}
}

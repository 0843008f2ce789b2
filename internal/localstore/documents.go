package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Metadata describes a generated document. Date, CrewNumber, FireName and
// FireNumber together identify it.
type Metadata struct {
	Filename   string `json:"filename"`
	Date       string `json:"date"`
	CrewNumber string `json:"crewNumber"`
	FireName   string `json:"fireName"`
	FireNumber string `json:"fireNumber"`
}

// Document is a stored PDF with its metadata.
type Document struct {
	ID        string    `json:"id"`
	Content   []byte    `json:"pdf"`
	Metadata  Metadata  `json:"metadata"`
	Timestamp time.Time `json:"timestamp"`
}

// DocumentID derives the id a document is stored under. Empty fields still
// yield an id.
func DocumentID(m Metadata) string {
	return strings.Join([]string{m.Date, m.CrewNumber, m.FireName, m.FireNumber}, "_")
}

// Archive stores generated documents. Storing twice with the same identifying
// metadata replaces the earlier document and its timestamp.
type Archive struct {
	store ObjectStore
	now   func() time.Time
}

func NewArchive(store ObjectStore) *Archive {
	return &Archive{store: store, now: time.Now}
}

// Store saves content under the id derived from meta.
func (a *Archive) Store(ctx context.Context, content []byte, meta Metadata) (string, error) {
	id := DocumentID(meta)
	doc := Document{
		ID:        id,
		Content:   content,
		Metadata:  meta,
		Timestamp: a.now().UTC().Truncate(time.Millisecond),
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	if err := a.store.Put(ctx, id, b); err != nil {
		return "", err
	}
	return id, nil
}

// Get returns ErrNotFound when id is not stored.
func (a *Archive) Get(ctx context.Context, id string) (*Document, error) {
	b, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode document %q: %w", id, err)
	}
	return &doc, nil
}

// List returns every stored document in storage order.
func (a *Archive) List(ctx context.Context) ([]Document, error) {
	ids, err := a.store.Keys(ctx)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		doc, err := a.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue // deleted while listing
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

func (a *Archive) Delete(ctx context.Context, id string) error {
	return a.store.Delete(ctx, id)
}

type SortField string

const (
	SortByDate       SortField = "date"
	SortByCrewNumber SortField = "crewNumber"
	SortByFireName   SortField = "fireName"
	SortByTimestamp  SortField = "timestamp"
)

type SortOrder string

const (
	Ascending  SortOrder = "asc"
	Descending SortOrder = "desc"
)

// ParseSort validates list sort parameters. Empty values default to
// timestamp, newest first.
func ParseSort(field, order string) (SortField, SortOrder, error) {
	f := SortField(field)
	switch f {
	case "":
		f = SortByTimestamp
	case SortByDate, SortByCrewNumber, SortByFireName, SortByTimestamp:
	default:
		return "", "", fmt.Errorf("unknown sort field %q", field)
	}
	o := SortOrder(strings.ToLower(order))
	switch o {
	case "":
		o = Descending
	case Ascending, Descending:
	default:
		return "", "", fmt.Errorf("unknown sort order %q", order)
	}
	return f, o, nil
}

// SortDocuments orders docs in place. Ties keep their existing order in both
// directions.
func SortDocuments(docs []Document, field SortField, order SortOrder) {
	cmp := func(a, b *Document) int {
		switch field {
		case SortByDate:
			return strings.Compare(a.Metadata.Date, b.Metadata.Date)
		case SortByCrewNumber:
			return strings.Compare(a.Metadata.CrewNumber, b.Metadata.CrewNumber)
		case SortByFireName:
			return strings.Compare(a.Metadata.FireName, b.Metadata.FireName)
		default:
			return a.Timestamp.Compare(b.Timestamp)
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		c := cmp(&docs[i], &docs[j])
		if order == Descending {
			return c > 0
		}
		return c < 0
	})
}

// Package searchindex maintains the materialized dataset search summary
// of §4.10: one SearchDocument per dataset, tokenized into the shared
// inverted index (pkg/fulltext) and refreshed on dataset creation,
// deletion and import commits (a catalog rename does not refresh it).
// Refresh is coalescable because re-adding a document
// id simply replaces its prior postings (idempotent by construction).
package searchindex

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/sakganji/datasetd/pkg/apperr"
	"github.com/sakganji/datasetd/pkg/fulltext/analyzer"
	"github.com/sakganji/datasetd/pkg/fulltext/index"
	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/store"
)

func decodeDoc(data []byte, doc *model.SearchDocument) error {
	return json.Unmarshal(data, doc)
}

type Index struct {
	db         *store.Store
	tokenizer  analyzer.Tokenizer
	inverted   *index.InvertedIndex
	refreshing sync.Map // datasetID -> struct{}, coalesces concurrent refresh requests
}

// New builds a search index backed by gojieba's CJK-aware segmentation
// (dataset names/descriptions are free text and may be Chinese), falling
// back to the ASCII/whitespace standard tokenizer on platforms built
// without CGO, where gojieba cannot load (see
// pkg/fulltext/analyzer/jieba_stub.go).
func New(db *store.Store) *Index {
	tokenizer, err := analyzer.NewJiebaTokenizer("", "", "", nil)
	var tok analyzer.Tokenizer = tokenizer
	if err != nil {
		tok = analyzer.NewStandardTokenizer(nil)
	}
	return &Index{
		db:        db,
		tokenizer: tok,
		inverted:  index.NewInvertedIndex(),
	}
}

// Refresh rebuilds one dataset's SearchDocument from its current
// metadata and re-indexes it. Concurrent refreshes for the same dataset
// collapse onto one winner: a refresh that arrives while another is in
// flight returns nil at once, without waiting and without applying its
// own ds.
func (idx *Index) Refresh(datasetID string, ds model.Dataset) error {
	if _, already := idx.refreshing.LoadOrStore(datasetID, struct{}{}); already {
		return nil
	}
	defer idx.refreshing.Delete(datasetID)

	doc := model.SearchDocument{
		DatasetID:      datasetID,
		Name:           ds.Name,
		Description:    ds.Description,
		Creator:        ds.CreatedBy,
		CreatedAt:      ds.CreatedAt,
		UpdatedAt:      ds.UpdatedAt,
		Tags:           ds.Tags,
		SearchTextBlob: strings.Join(append([]string{ds.Name, ds.Description}, ds.Tags...), " "),
	}

	if err := idx.db.WithinUoW(func(uow *store.UnitOfWork) error {
		return store.PutJSON(uow.Txn(), store.SearchDocKey(datasetID), &doc)
	}); err != nil {
		return err
	}

	tokens, err := idx.tokenizer.Tokenize(doc.SearchTextBlob)
	if err != nil {
		return apperr.Wrap(err, "tokenize search document")
	}
	idx.inverted.AddDocument(&index.Document{ID: datasetID, Fields: map[string]any{
		"name": doc.Name, "description": doc.Description,
	}}, tokens)
	return nil
}

// Remove drops a dataset from the search index (used on dataset
// deletion).
func (idx *Index) Remove(datasetID string) error {
	idx.inverted.RemoveDocument(datasetID)
	return idx.db.WithinUoW(func(uow *store.UnitOfWork) error {
		return uow.Txn().Delete(store.SearchDocKey(datasetID))
	})
}

// Search tokenizes query and returns matching dataset ids ranked by
// term overlap.
func (idx *Index) Search(query string) ([]index.SearchResult, error) {
	tokens, err := idx.tokenizer.Tokenize(query)
	if err != nil {
		return nil, apperr.Wrap(err, "tokenize query")
	}
	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = t.Text
	}
	return idx.inverted.Search(terms), nil
}

// Get returns the persisted SearchDocument for a dataset.
func (idx *Index) Get(datasetID string) (*model.SearchDocument, error) {
	var doc model.SearchDocument
	err := idx.db.View(func(txn *badger.Txn) error {
		return store.GetJSON(txn, store.SearchDocKey(datasetID), &doc)
	})
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("search document for dataset %s not found", datasetID)
		}
		return nil, apperr.Wrap(err, "read search document")
	}
	return &doc, nil
}

// Rebuild reloads every persisted SearchDocument into the in-memory
// inverted index; call once at startup so the index survives a process
// restart without needing to persist postings themselves.
func (idx *Index) Rebuild() error {
	var docs []model.SearchDocument
	err := idx.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte("search:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var doc model.SearchDocument
			if err := it.Item().Value(func(val []byte) error {
				return decodeDoc(val, &doc)
			}); err != nil {
				return apperr.Wrap(err, fmt.Sprintf("decode search document %s", it.Item().Key()))
			}
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, doc := range docs {
		tokens, err := idx.tokenizer.Tokenize(doc.SearchTextBlob)
		if err != nil {
			return apperr.Wrap(err, "tokenize search document")
		}
		idx.inverted.AddDocument(&index.Document{ID: doc.DatasetID, Fields: map[string]any{
			"name": doc.Name, "description": doc.Description,
		}}, tokens)
	}
	return nil
}

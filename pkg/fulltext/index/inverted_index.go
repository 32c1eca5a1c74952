package index

import (
	"sort"
	"sync"

	"github.com/sakganji/datasetd/pkg/fulltext/analyzer"
)

// Document is one indexed dataset summary: enough fields to match
// against and enough identity (ID) to resolve back to a full
// SearchDocument at query time.
type Document struct {
	ID     string
	Fields map[string]any
}

// SearchResult is one ranked match.
type SearchResult struct {
	DocID string
	Score float64
	Doc   *Document
}

// InvertedIndex maps tokens to the datasets whose search_text_blob
// contains them, adapted from the teacher's BM25-scored inverted index
// (pkg/fulltext/index/inverted_index.go) down to a plain term-frequency
// score: dataset search ranks "how many query terms matched, how often"
// rather than needing full relevance ranking over free-text documents.
type InvertedIndex struct {
	postings map[string]*PostingsList // term -> PostingsList
	docStore map[string]*Document
	docLen   map[string]int
	mu       sync.RWMutex
}

func NewInvertedIndex() *InvertedIndex {
	return &InvertedIndex{
		postings: make(map[string]*PostingsList),
		docStore: make(map[string]*Document),
		docLen:   make(map[string]int),
	}
}

// AddDocument indexes (or re-indexes) doc under tokens. Re-adding a
// document id first removes its prior postings, so a search-index
// refresh is idempotent (§4.10).
func (idx *InvertedIndex) AddDocument(doc *Document, tokens []analyzer.Token) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(doc.ID)
	idx.docStore[doc.ID] = doc
	idx.docLen[doc.ID] = len(tokens)

	freqs := make(map[string]int)
	positions := make(map[string][]int)
	for _, tok := range tokens {
		freqs[tok.Text]++
		positions[tok.Text] = append(positions[tok.Text], tok.Position)
	}
	for term, freq := range freqs {
		pl, ok := idx.postings[term]
		if !ok {
			pl = NewPostingsList(term)
			idx.postings[term] = pl
		}
		pl.AddPosting(Posting{DocID: doc.ID, Frequency: freq, Positions: positions[term]})
	}
}

// RemoveDocument drops a document from every term's postings list.
func (idx *InvertedIndex) RemoveDocument(docID string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.removeLocked(docID)
}

func (idx *InvertedIndex) removeLocked(docID string) bool {
	if _, ok := idx.docStore[docID]; !ok {
		return false
	}
	for _, pl := range idx.postings {
		pl.RemovePosting(docID)
	}
	delete(idx.docStore, docID)
	delete(idx.docLen, docID)
	return true
}

// Search returns every document matching at least one query term,
// ranked by summed term frequency, highest first.
func (idx *InvertedIndex) Search(queryTerms []string) []SearchResult {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	scores := make(map[string]float64)
	for _, term := range queryTerms {
		pl, ok := idx.postings[term]
		if !ok {
			continue
		}
		for _, p := range pl.Postings {
			scores[p.DocID] += float64(p.Frequency)
		}
	}

	results := make([]SearchResult, 0, len(scores))
	for docID, score := range scores {
		results = append(results, SearchResult{DocID: docID, Score: score, Doc: idx.docStore[docID]})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})
	return results
}

func (idx *InvertedIndex) GetDocument(docID string) *Document {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.docStore[docID]
}

func (idx *InvertedIndex) GetAllDocIDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ids := make([]string, 0, len(idx.docStore))
	for id := range idx.docStore {
		ids = append(ids, id)
	}
	return ids
}

package index

import "sort"

// Posting is one (term, document) occurrence: which document, how many
// times the term appears, and at which token positions (kept for a
// future phrase-search extension, unused by plain term-overlap scoring).
type Posting struct {
	DocID     string
	Frequency int
	Positions []int
}

// PostingsList is the sorted-by-DocID postings for one term.
type PostingsList struct {
	Term     string
	Postings []Posting
}

func NewPostingsList(term string) *PostingsList {
	return &PostingsList{Term: term, Postings: make([]Posting, 0)}
}

// AddPosting inserts posting keeping Postings sorted by DocID, so
// FindPosting can binary-search.
func (pl *PostingsList) AddPosting(posting Posting) {
	idx := sort.Search(len(pl.Postings), func(i int) bool {
		return pl.Postings[i].DocID >= posting.DocID
	})
	pl.Postings = append(pl.Postings, Posting{})
	copy(pl.Postings[idx+1:], pl.Postings[idx:])
	pl.Postings[idx] = posting
}

// FindPosting looks up docID's posting via binary search.
func (pl *PostingsList) FindPosting(docID string) *Posting {
	idx := sort.Search(len(pl.Postings), func(i int) bool {
		return pl.Postings[i].DocID >= docID
	})
	if idx < len(pl.Postings) && pl.Postings[idx].DocID == docID {
		return &pl.Postings[idx]
	}
	return nil
}

// RemovePosting removes docID's posting if present.
func (pl *PostingsList) RemovePosting(docID string) bool {
	for i, p := range pl.Postings {
		if p.DocID == docID {
			pl.Postings = append(pl.Postings[:i], pl.Postings[i+1:]...)
			return true
		}
	}
	return false
}

package model

import (
	"cmp"
	"slices"
)

type rankedKey struct {
	doc  DocumentID
	attr AttributeID
}

// RankedMap holds the ranking score of every (document, ranked attribute)
// pair. The zero value is not usable; use NewRankedMap.
type RankedMap struct {
	scores map[rankedKey]float64
}

// RankedEntry is the persisted form of one RankedMap score
type RankedEntry struct {
	DocumentID DocumentID  `json:"document_id"`
	Attribute  AttributeID `json:"attribute"`
	Score      float64     `json:"score"`
}

// NewRankedMap returns an empty map
func NewRankedMap() *RankedMap {
	return &RankedMap{scores: make(map[rankedKey]float64)}
}

// RankedMapFromEntries rebuilds a map from its persisted entries
func RankedMapFromEntries(entries []RankedEntry) *RankedMap {
	m := NewRankedMap()
	for _, e := range entries {
		m.Insert(e.DocumentID, e.Attribute, e.Score)
	}
	return m
}

// Insert sets the score of (doc, attr)
func (m *RankedMap) Insert(doc DocumentID, attr AttributeID, score float64) {
	m.scores[rankedKey{doc, attr}] = score
}

// Remove deletes the score of (doc, attr), if any
func (m *RankedMap) Remove(doc DocumentID, attr AttributeID) {
	delete(m.scores, rankedKey{doc, attr})
}

// Get returns the score of (doc, attr)
func (m *RankedMap) Get(doc DocumentID, attr AttributeID) (float64, bool) {
	score, ok := m.scores[rankedKey{doc, attr}]
	return score, ok
}

func (m *RankedMap) Len() int {
	return len(m.scores)
}

// Entries returns every score ordered by document then attribute, so equal
// maps always persist to equal bytes.
func (m *RankedMap) Entries() []RankedEntry {
	entries := make([]RankedEntry, 0, len(m.scores))
	for k, score := range m.scores {
		entries = append(entries, RankedEntry{DocumentID: k.doc, Attribute: k.attr, Score: score})
	}
	slices.SortFunc(entries, func(a, b RankedEntry) int {
		if c := cmp.Compare(a.DocumentID, b.DocumentID); c != 0 {
			return c
		}
		return cmp.Compare(a.Attribute, b.Attribute)
	})
	return entries
}

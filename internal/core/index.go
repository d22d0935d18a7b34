package core

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxListed caps identifiers named in a conflict description.
const maxListed = 5

// orderedSet keeps first-seen order so output is stable across runs on the
// same input.
type orderedSet struct {
	items []string
	seen  map[string]struct{}
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{}, 1)}
}

func (s *orderedSet) add(v string) {
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}

func (s *orderedSet) has(v string) bool {
	_, ok := s.seen[v]
	return ok
}

func (s *orderedSet) size() int { return len(s.items) }

func (s *orderedSet) slice() []string {
	return append([]string(nil), s.items...)
}

// indexEntry aggregates everything observed for one key.
type indexEntry struct {
	counterparts *orderedSet
	locations    *orderedSet
	warehouses   *orderedSet
}

func newIndexEntry() *indexEntry {
	return &indexEntry{
		counterparts: newOrderedSet(),
		locations:    newOrderedSet(),
		warehouses:   newOrderedSet(),
	}
}

func (e *indexEntry) add(counterpart, location, warehouse string) {
	e.counterparts.add(counterpart)
	e.locations.add(location)
	e.warehouses.add(warehouse)
}

// Index is the pair of aggregates built over one run's records:
// UPC to products and product to UPCs. An Index belongs to a single run
// and is not safe for concurrent use.
type Index struct {
	upcs         map[string]*indexEntry
	upcOrder     []string
	products     map[string]*indexEntry
	productOrder []string
	records      int
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		upcs:     make(map[string]*indexEntry),
		products: make(map[string]*indexEntry),
	}
}

// Add folds one record into both aggregates.
func (ix *Index) Add(r NormalizedRecord) {
	ix.records++
	loc, wh := bucket(r.Location), bucket(r.WarehouseID)

	u, ok := ix.upcs[r.UPC]
	if !ok {
		u = newIndexEntry()
		ix.upcs[r.UPC] = u
		ix.upcOrder = append(ix.upcOrder, r.UPC)
	}
	u.add(r.ProductID, loc, wh)

	p, ok := ix.products[r.ProductID]
	if !ok {
		p = newIndexEntry()
		ix.products[r.ProductID] = p
		ix.productOrder = append(ix.productOrder, r.ProductID)
	}
	p.add(r.UPC, loc, wh)
}

// Products returns the distinct products seen with upc.
func (ix *Index) Products(upc string) []string {
	if e, ok := ix.upcs[upc]; ok {
		return e.counterparts.slice()
	}
	return nil
}

// UPCs returns the distinct UPCs seen with productID.
func (ix *Index) UPCs(productID string) []string {
	if e, ok := ix.products[productID]; ok {
		return e.counterparts.slice()
	}
	return nil
}

// Linked reports whether upc and productID were observed together.
func (ix *Index) Linked(upc, productID string) bool {
	e, ok := ix.upcs[upc]
	return ok && e.counterparts.has(productID)
}

// IndexStats summarizes an index.
type IndexStats struct {
	Records          int
	UniqueUPCs       int
	UniqueProducts   int
	DuplicateUPCs    int
	MultiUPCProducts int
	// MaxDuplication is the largest cardinality in either aggregate.
	MaxDuplication int
}

// Stats computes the summary counters.
func (ix *Index) Stats() IndexStats {
	st := IndexStats{
		Records:        ix.records,
		UniqueUPCs:     len(ix.upcs),
		UniqueProducts: len(ix.products),
	}
	for _, e := range ix.upcs {
		n := e.counterparts.size()
		if n > 1 {
			st.DuplicateUPCs++
		}
		st.MaxDuplication = max(st.MaxDuplication, n)
	}
	for _, e := range ix.products {
		n := e.counterparts.size()
		if n > 1 {
			st.MultiUPCProducts++
		}
		st.MaxDuplication = max(st.MaxDuplication, n)
	}
	return st
}

// Conflicts emits one conflict per key whose cardinality exceeds one,
// classified by cl and ordered by severity, then cardinality (both
// descending), then kind and key.
func (ix *Index) Conflicts(runID string, cl *Classifier, now time.Time) []Conflict {
	var out []Conflict

	for _, upc := range ix.upcOrder {
		e := ix.upcs[upc]
		if e.counterparts.size() < 2 {
			continue
		}
		c := &DuplicateUPC{
			ConflictBase: newBase(runID, e, now),
			UPC:          upc,
			Products:     e.counterparts.slice(),
		}
		c.Description = fmt.Sprintf("UPC %s is assigned to %d products (%s)",
			upc, len(c.Products), listed(c.Products))
		cl.Classify(c)
		out = append(out, c)
	}

	for _, pid := range ix.productOrder {
		e := ix.products[pid]
		if e.counterparts.size() < 2 {
			continue
		}
		c := &MultiUPCProduct{
			ConflictBase: newBase(runID, e, now),
			ProductID:    pid,
			UPCs:         e.counterparts.slice(),
		}
		c.Description = fmt.Sprintf("Product %s has %d different UPCs (%s)",
			pid, len(c.UPCs), listed(c.UPCs))
		cl.Classify(c)
		out = append(out, c)
	}

	SortConflicts(out)
	for i, c := range out {
		c.Base().Rank = i + 1
	}
	return out
}

// SortConflicts orders conflicts by severity and cardinality, descending,
// breaking ties by kind and key.
func SortConflicts(cs []Conflict) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.Base().Severity != b.Base().Severity {
			return a.Base().Severity > b.Base().Severity
		}
		if a.Cardinality() != b.Cardinality() {
			return a.Cardinality() > b.Cardinality()
		}
		if a.Kind() != b.Kind() {
			return a.Kind() < b.Kind()
		}
		return a.Key() < b.Key()
	})
}

func newBase(runID string, e *indexEntry, now time.Time) ConflictBase {
	return ConflictBase{
		ID:         uuid.NewString(),
		RunID:      runID,
		Locations:  e.locations.slice(),
		Warehouses: e.warehouses.slice(),
		Status:     ConflictNew,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func listed(ids []string) string {
	if len(ids) <= maxListed {
		return strings.Join(ids, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(ids[:maxListed], ", "), len(ids)-maxListed)
}

package core

import (
	"fmt"
	"time"
)

// Conflict is one detected inconsistency. The set of implementations is
// closed: *DuplicateUPC and *MultiUPCProduct.
type Conflict interface {
	Base() *ConflictBase
	Kind() ConflictKind
	// Key is the identifier the conflict is about (a UPC or a product ID).
	Key() string
	// Counterparts are the distinct identifiers observed with Key.
	Counterparts() []string
	Cardinality() int

	conflict()
}

// ConflictBase holds the fields shared by every conflict.
type ConflictBase struct {
	ID          string
	RunID       string
	Locations   []string
	Warehouses  []string
	Severity    Severity
	Priority    Priority
	CostImpact  float64
	Description string
	Status      ConflictStatus
	Rank        int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (b *ConflictBase) Base() *ConflictBase { return b }

// DuplicateUPC is one UPC observed on more than one product.
type DuplicateUPC struct {
	ConflictBase
	UPC      string
	Products []string
}

func (*DuplicateUPC) Kind() ConflictKind       { return KindDuplicateUPC }
func (c *DuplicateUPC) Key() string            { return c.UPC }
func (c *DuplicateUPC) Counterparts() []string { return c.Products }
func (c *DuplicateUPC) Cardinality() int       { return len(c.Products) }
func (*DuplicateUPC) conflict()                {}

// MultiUPCProduct is one product observed with more than one UPC.
type MultiUPCProduct struct {
	ConflictBase
	ProductID string
	UPCs      []string
}

func (*MultiUPCProduct) Kind() ConflictKind       { return KindMultiUPCProduct }
func (c *MultiUPCProduct) Key() string            { return c.ProductID }
func (c *MultiUPCProduct) Counterparts() []string { return c.UPCs }
func (c *MultiUPCProduct) Cardinality() int       { return len(c.UPCs) }
func (*MultiUPCProduct) conflict()                {}

// ConflictRecord is the flat, storable form of a Conflict.
type ConflictRecord struct {
	ID           string         `json:"id"`
	RunID        string         `json:"analysisId"`
	Kind         ConflictKind   `json:"type"`
	Key          string         `json:"key"`
	Counterparts []string       `json:"counterparts"`
	Locations    []string       `json:"locations"`
	Warehouses   []string       `json:"warehouses"`
	Severity     Severity       `json:"severity"`
	Priority     Priority       `json:"priority"`
	CostImpact   float64        `json:"costImpact"`
	Description  string         `json:"description"`
	Status       ConflictStatus `json:"status"`
	Rank         int            `json:"rank"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// RecordOf flattens c.
func RecordOf(c Conflict) ConflictRecord {
	b := c.Base()
	return ConflictRecord{
		ID:           b.ID,
		RunID:        b.RunID,
		Kind:         c.Kind(),
		Key:          c.Key(),
		Counterparts: c.Counterparts(),
		Locations:    b.Locations,
		Warehouses:   b.Warehouses,
		Severity:     b.Severity,
		Priority:     b.Priority,
		CostImpact:   b.CostImpact,
		Description:  b.Description,
		Status:       b.Status,
		Rank:         b.Rank,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

// Conflict rebuilds the typed conflict from r.
func (r ConflictRecord) Conflict() (Conflict, error) {
	base := ConflictBase{
		ID:          r.ID,
		RunID:       r.RunID,
		Locations:   r.Locations,
		Warehouses:  r.Warehouses,
		Severity:    r.Severity,
		Priority:    r.Priority,
		CostImpact:  r.CostImpact,
		Description: r.Description,
		Status:      r.Status,
		Rank:        r.Rank,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	switch r.Kind {
	case KindDuplicateUPC:
		return &DuplicateUPC{ConflictBase: base, UPC: r.Key, Products: r.Counterparts}, nil
	case KindMultiUPCProduct:
		return &MultiUPCProduct{ConflictBase: base, ProductID: r.Key, UPCs: r.Counterparts}, nil
	default:
		return nil, fmt.Errorf("unknown conflict kind %q", r.Kind)
	}
}

// ConflictView is a conflict as returned to callers: the stored fields,
// the kind-specific identifiers and suggestions computed at read time.
type ConflictView struct {
	ConflictRecord

	UPC       string   `json:"upc,omitempty"`
	Products  []string `json:"products,omitempty"`
	ProductID string   `json:"productId,omitempty"`
	UPCs      []string `json:"upcs,omitempty"`

	Suggestions []string `json:"suggestions"`
	Automatable bool     `json:"automatable"`
}

// ViewOf builds the read-time view of c.
func ViewOf(c Conflict) ConflictView {
	v := ConflictView{ConflictRecord: RecordOf(c)}
	switch c := c.(type) {
	case *DuplicateUPC:
		v.UPC, v.Products = c.UPC, c.Products
	case *MultiUPCProduct:
		v.ProductID, v.UPCs = c.ProductID, c.UPCs
	}
	set := Suggest(c)
	v.Suggestions = set.Suggestions
	v.Automatable = set.Automatable
	return v
}

package core

import (
	"fmt"
	"math"
)

// Thresholds are the cardinalities at which each severity tier starts.
// Low is the smallest cardinality that is a conflict at all.
type Thresholds struct {
	Low      int `json:"low"`
	Medium   int `json:"medium"`
	High     int `json:"high"`
	Critical int `json:"critical"`
}

// DefaultThresholds returns 2/5/10/50.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 2, Medium: 5, High: 10, Critical: 50}
}

// Validate checks 2 <= Low <= Medium <= High <= Critical.
func (t Thresholds) Validate() error {
	if t.Low < 2 || t.Low > t.Medium || t.Medium > t.High || t.High > t.Critical {
		return fmt.Errorf("%w %d/%d/%d/%d: need 2 <= low <= medium <= high <= critical",
			ErrInvalidThresholds, t.Low, t.Medium, t.High, t.Critical)
	}
	return nil
}

// CostModel holds the per-family base costs.
type CostModel struct {
	DuplicateUPCBase float64
	MultiUPCBase     float64
}

// DefaultCostModel returns 100 for duplicate UPCs and 50 for multi-UPC products.
func DefaultCostModel() CostModel {
	return CostModel{DuplicateUPCBase: 100, MultiUPCBase: 50}
}

// Cost growth: base * c * costGrowth^clamp(c-2, 0, maxCostExponent).
const (
	costGrowth      = 1.5
	maxCostExponent = 10
)

// Classifier assigns severity, priority and cost impact from cardinality.
type Classifier struct {
	thresholds Thresholds
	costs      CostModel
}

// NewClassifier returns a classifier using t and costs.
func NewClassifier(t Thresholds, costs CostModel) *Classifier {
	return &Classifier{thresholds: t, costs: costs}
}

// Thresholds returns the classifier's thresholds.
func (c *Classifier) Thresholds() Thresholds { return c.thresholds }

// Severity maps a cardinality to its tier. It is non-decreasing in
// cardinality.
func (c *Classifier) Severity(cardinality int) Severity {
	switch t := c.thresholds; {
	case cardinality >= t.Critical:
		return SeverityCritical
	case cardinality >= t.High:
		return SeverityHigh
	case cardinality >= t.Medium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Priority maps a cardinality to its priority.
func (c *Classifier) Priority(cardinality int) Priority {
	return PriorityFor(c.Severity(cardinality))
}

// CostImpact estimates the remediation cost of a conflict, rounded to cents.
func (c *Classifier) CostImpact(kind ConflictKind, cardinality int) float64 {
	base := c.costs.MultiUPCBase
	if kind == KindDuplicateUPC {
		base = c.costs.DuplicateUPCBase
	}
	exp := min(max(cardinality-2, 0), maxCostExponent)
	cost := base * float64(cardinality) * math.Pow(costGrowth, float64(exp))
	return math.Round(cost*100) / 100
}

// Classify fills in severity, priority and cost impact on cf.
func (c *Classifier) Classify(cf Conflict) {
	b := cf.Base()
	n := cf.Cardinality()
	b.Severity = c.Severity(n)
	b.Priority = PriorityFor(b.Severity)
	b.CostImpact = c.CostImpact(cf.Kind(), n)
}

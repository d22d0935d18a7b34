package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/upcguard/internal/ingest"
	"github.com/JonMunkholm/upcguard/internal/schema"
)

// RunStatus is the pipeline state of an analysis run.
type RunStatus string

const (
	StatusPending      RunStatus = "PENDING"
	StatusParsing      RunStatus = "PARSING"
	StatusInferring    RunStatus = "INFERRING"
	StatusNormalizing  RunStatus = "NORMALIZING"
	StatusDetecting    RunStatus = "DETECTING"
	StatusCompleted    RunStatus = "COMPLETED"
	StatusFailed       RunStatus = "FAILED"
	StatusNeedsMapping RunStatus = "NEEDS_MAPPING"
)

// Terminal reports whether the run can no longer change.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether a worker is processing the run.
func (s RunStatus) Active() bool {
	switch s {
	case StatusPending, StatusParsing, StatusInferring, StatusNormalizing, StatusDetecting:
		return true
	}
	return false
}

// RunStats are the counters reported for a run.
type RunStats struct {
	TotalRecords     int `json:"totalRecords"`
	UniqueUPCs       int `json:"uniqueUPCs"`
	UniqueProducts   int `json:"uniqueProducts"`
	DuplicateUPCs    int `json:"duplicateUPCs"`
	MultiUPCProducts int `json:"multiUPCProducts"`
	MaxDuplication   int `json:"maxDuplication"`

	// DroppedRecords counts rows rejected by the normalizer, by reason.
	DroppedRecords map[Rejection]int `json:"droppedRecords,omitempty"`
	ParseErrors    int               `json:"parseErrors"`
}

// InferenceSummary is the outcome of schema inference kept on the run.
type InferenceSummary struct {
	Suggestions []schema.Suggestion `json:"suggestions"`
	Warnings    []string            `json:"warnings"`
	Confidence  float64             `json:"confidence"`
}

// AnalysisRun groups one parse and detection pass over a file.
type AnalysisRun struct {
	ID       string `json:"id"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	Format   string `json:"format,omitempty"`

	// SourcePath is the file the run reads. OwnsSource marks spooled copies
	// that are removed once the run is terminal.
	SourcePath string `json:"-"`
	OwnsSource bool   `json:"-"`

	Status          RunStatus `json:"status"`
	ProgressPercent int       `json:"progressPercent"`

	RunStats

	Header        []string          `json:"header,omitempty"`
	ColumnMapping schema.Mapping    `json:"columnMapping,omitempty"`
	Inference     *InferenceSummary `json:"inference,omitempty"`
	RowErrors     []ingest.RowError `json:"rowErrors,omitempty"`
	Thresholds    Thresholds        `json:"thresholds"`
	ErrorMessage  string            `json:"errorMessage,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Clone returns a deep copy of r.
func (r *AnalysisRun) Clone() *AnalysisRun {
	if r == nil {
		return nil
	}
	c := *r
	c.Header = append([]string(nil), r.Header...)
	c.ColumnMapping = r.ColumnMapping.Clone()
	c.RowErrors = append([]ingest.RowError(nil), r.RowErrors...)
	if r.DroppedRecords != nil {
		c.DroppedRecords = make(map[Rejection]int, len(r.DroppedRecords))
		for k, v := range r.DroppedRecords {
			c.DroppedRecords[k] = v
		}
	}
	if r.Inference != nil {
		inf := *r.Inference
		inf.Suggestions = append([]schema.Suggestion(nil), r.Inference.Suggestions...)
		inf.Warnings = append([]string(nil), r.Inference.Warnings...)
		c.Inference = &inf
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Severity tiers, ordered LOW < MEDIUM < HIGH < CRITICAL.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

// Severities lists all tiers from lowest to highest.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func (s Severity) String() string {
	if n, ok := severityNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

func (s Severity) MarshalText() ([]byte, error) {
	if _, ok := severityNames[s]; !ok {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSeverity parses a tier name, case-insensitively.
func ParseSeverity(v string) (Severity, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	for s, n := range severityNames {
		if n == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", v)
}

// Priority is the work-queue priority derived from severity.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// PriorityFor maps a severity to its priority.
func PriorityFor(s Severity) Priority {
	switch s {
	case SeverityCritical:
		return PriorityUrgent
	case SeverityHigh:
		return PriorityHigh
	case SeverityMedium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// ConflictKind names a conflict family.
type ConflictKind string

const (
	KindDuplicateUPC    ConflictKind = "DUPLICATE_UPC"
	KindMultiUPCProduct ConflictKind = "MULTI_UPC_PRODUCT"
)

// Valid reports whether k is a known kind.
func (k ConflictKind) Valid() bool {
	return k == KindDuplicateUPC || k == KindMultiUPCProduct
}

// ConflictStatus is the workflow state of a conflict.
type ConflictStatus string

const (
	ConflictNew        ConflictStatus = "NEW"
	ConflictAssigned   ConflictStatus = "ASSIGNED"
	ConflictInProgress ConflictStatus = "IN_PROGRESS"
	ConflictResolved   ConflictStatus = "RESOLVED"
	ConflictDismissed  ConflictStatus = "DISMISSED"
)

var conflictTransitions = map[ConflictStatus][]ConflictStatus{
	ConflictNew:        {ConflictAssigned},
	ConflictAssigned:   {ConflictInProgress},
	ConflictInProgress: {ConflictResolved, ConflictDismissed},
	ConflictResolved:   {ConflictInProgress},
	ConflictDismissed:  {ConflictNew},
}

// Valid reports whether s is a known status.
func (s ConflictStatus) Valid() bool {
	_, ok := conflictTransitions[s]
	return ok
}

// CanTransition reports whether a conflict may move from one status to another.
func CanTransition(from, to ConflictStatus) bool {
	for _, next := range conflictTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/JonMunkholm/upcguard/internal/ingest"
	"github.com/JonMunkholm/upcguard/internal/schema"
)

// ============================================================================
// Normalization Benchmarks
// ============================================================================

// BenchmarkNormalizeUPC benchmarks UPC cleaning.
// This is a hot path: every row goes through it.
func BenchmarkNormalizeUPC(b *testing.B) {
	testCases := []string{
		"012345678905",
		"12345678905",     // 11 digits, padded
		" 0123-4567-8905", // Separators
		`="012345678905"`, // Excel formula wrapper
		"1.23457E+11",     // Scientific, rejected
		"",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			NormalizeUPC(tc)
		}
	}
}

// BenchmarkNormalizeUPC_Simple benchmarks the most common case: a clean UPC-A.
func BenchmarkNormalizeUPC_Simple(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NormalizeUPC("012345678905")
	}
}

// BenchmarkCleanCell benchmarks cell cleaning with and without artifacts.
func BenchmarkCleanCell(b *testing.B) {
	testCases := []string{
		"SKU-1",
		"  SKU-1  ",
		`="SKU-1"`,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			CleanCell(tc)
		}
	}
}

// BenchmarkNormalizer benchmarks a full row with all four fields mapped.
func BenchmarkNormalizer(b *testing.B) {
	header := []string{"UPC", "SKU", "Warehouse", "Bin"}
	n, err := NewNormalizer(header, schema.Mapping{
		schema.FieldUPC:       "UPC",
		schema.FieldSKU:       "SKU",
		schema.FieldWarehouse: "Warehouse",
		schema.FieldLocation:  "Bin",
	})
	if err != nil {
		b.Fatal(err)
	}
	row := ingest.RawRow{Line: 2, Cells: []string{"012345678905", "SKU-1", "WH1", "A-01"}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		n.Normalize(row)
	}
}

// ============================================================================
// Index Benchmarks
// ============================================================================

// makeRecords builds n records over n/4 UPCs and n/3 products, so both
// conflict kinds occur.
func makeRecords(n int) []NormalizedRecord {
	recs := make([]NormalizedRecord, n)
	for i := range recs {
		recs[i] = NormalizedRecord{
			UPC:         fmt.Sprintf("%012d", i%(n/4+1)),
			ProductID:   fmt.Sprintf("SKU-%d", i%(n/3+1)),
			WarehouseID: fmt.Sprintf("WH%d", i%5),
			Location:    fmt.Sprintf("A-%02d", i%40),
			Line:        i + 2,
		}
	}
	return recs
}

// BenchmarkIndexAdd benchmarks index construction at different sizes.
func BenchmarkIndexAdd(b *testing.B) {
	for _, size := range []int{1000, 10000, 100000} {
		recs := makeRecords(size)
		b.Run(fmt.Sprintf("records_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				ix := NewIndex()
				for _, r := range recs {
					ix.Add(r)
				}
			}
		})
	}
}

// BenchmarkIndexConflicts benchmarks conflict extraction and ranking.
func BenchmarkIndexConflicts(b *testing.B) {
	ix := NewIndex()
	for _, r := range makeRecords(10000) {
		ix.Add(r)
	}
	cl := NewClassifier(DefaultThresholds(), DefaultCostModel())
	now := time.Now()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ix.Conflicts("bench", cl, now)
	}
}

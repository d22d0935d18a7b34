// Package core provides the conflict analysis pipeline for warehouse
// inventory files.
//
// The package holds all domain logic independent of any transport layer.
// It is used by the web handlers, the CLI, and tests without modification.
//
// # Architecture
//
// The package is organized around several key concepts:
//
//   - Normalizer: applies a column mapping to raw rows, producing
//     [NormalizedRecord] values or a [Rejection].
//   - Index: bidirectional UPC/product index built once per run, from which
//     [DuplicateUPC] and [MultiUPCProduct] conflicts are read.
//   - Classifier: severity, priority and cost impact from cardinality.
//   - Suggestions: computed at read time by [Suggest], never stored.
//   - Service: the run state machine and the entry point for all operations.
//
// # Run Lifecycle
//
// A run moves PENDING → PARSING → INFERRING → NORMALIZING → DETECTING →
// COMPLETED. Any stage may end in FAILED. When inference cannot identify
// the UPC and SKU columns the run stops in NEEDS_MAPPING and waits for
// [Service.ResumeWithMapping], which re-enters at NORMALIZING. Progress
// never decreases within a run.
//
//  1. Client calls [Service.StartAnalysis] with a spooled file
//  2. A run slot is taken from the [RunLimiter]
//  3. Rows are read in batches, normalized and stored
//  4. Conflicts are classified and replaced atomically in the [Store]
//  5. Progress is broadcast to subscribers via [Service.SubscribeProgress]
//     and to the configured [Notifier]
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - FMT001-FMT005: File format errors
//   - PRS001-PRS002: Parse errors
//   - MAP001-MAP003: Mapping and threshold errors
//   - RUN001-RUN008: Run lifecycle errors
//   - CFL001-CFL002: Conflict workflow errors
//   - DB001-DB007: Database errors
//   - REQ001-REQ003: Request errors
package core

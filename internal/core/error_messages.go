// Package core provides the conflict analysis pipeline.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When users encounter errors, they can quote the error code to support staff
// for faster diagnosis.
//
// Error codes are grouped by category:
//
// # File Format Errors (FMT001-FMT099)
//
//	FMT001 - Unknown format: File is not a spreadsheet, delimited text or JSON records
//	         Action: Export the inventory as .xlsx, .csv, .tsv or a JSON array
//	         Patterns: "unrecognized file format"
//
//	FMT002 - Legacy workbook: Old .xls workbooks are not supported
//	         Action: Re-save the workbook as .xlsx
//	         Patterns: "legacy excel workbook"
//
//	FMT003 - Empty file: The uploaded file is empty
//	         Action: Upload a file with a header row and data rows
//	         Patterns: "empty file"
//
//	FMT004 - File too large: File exceeds the upload size limit
//	         Action: Split the file into smaller chunks
//	         Patterns: "file too large"
//
//	FMT005 - No file: No file was selected
//	         Action: Select an inventory file to upload
//	         Patterns: "no file provided"
//
// # Parse Errors (PRS001-PRS099)
//
//	PRS001 - Error budget: Too many rows could not be read
//	         Action: Check the file for broken quoting or mixed delimiters
//	         Patterns: "row error budget exceeded"
//
//	PRS002 - No header: No header row found near the top of the file
//	         Action: Make sure column names appear in the first 20 rows
//	         Patterns: "no header row"
//
// # Mapping Errors (MAP001-MAP099)
//
//	MAP001 - Invalid mapping: UPC and SKU columns must both be mapped
//	         Action: Choose a column for UPC and for SKU
//	         Patterns: "missing required column", "invalid column mapping"
//
//	MAP002 - Column not found: A mapped column is not in the file
//	         Action: Pick column names exactly as they appear in the header
//	         Patterns: "column not found"
//
//	MAP003 - Invalid thresholds: Severity thresholds are out of order
//	         Action: Use thresholds of at least 2 with low <= medium <= high <= critical
//	         Patterns: "invalid severity thresholds"
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - Not found: The analysis does not exist
//	         Patterns: "analysis not found"
//
//	RUN002 - System busy: Too many analyses in progress
//	         Action: Please wait a moment and try again
//	         Patterns: "too many concurrent analyses"
//
//	RUN003 - Cancelled: The analysis was cancelled
//	         Patterns: "analysis cancelled"
//
//	RUN004 - Time budget: The analysis took too long and was stopped
//	         Action: Split the file into smaller uploads
//	         Patterns: "time budget exceeded"
//
//	RUN005 - Not resumable: The analysis is not waiting for a column mapping
//	         Patterns: "not resumable", "source file unavailable"
//
//	RUN006 - Finalized: The analysis has already completed or failed
//	         Patterns: "already finalized"
//
//	RUN007 - Shutting down: The service is restarting
//	         Patterns: "shutting down"
//
// # Conflict Errors (CFL001-CFL099)
//
//	CFL001 - Not found: The conflict does not exist
//	         Patterns: "conflict not found"
//
//	CFL002 - Invalid transition: The conflict cannot move to that status
//	         Patterns: "invalid status transition"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key          Patterns: "duplicate key"
//	DB002 - Unique constraint      Patterns: "unique constraint", "violates unique"
//	DB003 - Foreign key            Patterns: "foreign key constraint", "violates foreign key"
//	DB004 - Connection refused     Patterns: "connection refused"
//	DB005 - Connection reset       Patterns: "connection reset"
//	DB006 - Timeout                Patterns: "timeout"
//	DB007 - Busy                   Patterns: "deadlock", "database is locked"
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Request cancelled     Patterns: "context canceled"
//	REQ002 - Request timeout       Patterns: "context deadline exceeded"
//	REQ003 - Rate limited          Patterns: "rate limit exceeded"
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches:
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Please try again or contact support
//
// # Pattern Matching
//
// Error patterns are matched case-insensitively using strings.Contains.
// The first matching pattern wins, so more specific patterns should be
// defined before general ones.
package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// The first matching pattern wins, so order matters.
var errorPatterns = []errorPattern{
	// =========================================================================
	// File Format Errors (FMT001-FMT005)
	// =========================================================================
	{
		pattern: "unrecognized file format",
		msg: UserMessage{
			Message: "File format not recognized",
			Action:  "Export the inventory as .xlsx, .csv, .tsv or a JSON array",
			Code:    "FMT001",
		},
	},
	{
		pattern: "legacy excel workbook",
		msg: UserMessage{
			Message: "Legacy .xls workbooks are not supported",
			Action:  "Re-save the workbook as .xlsx and upload again",
			Code:    "FMT002",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Upload a file with a header row and data rows",
			Code:    "FMT003",
		},
	},
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum upload size",
			Action:  "Split the file into smaller chunks",
			Code:    "FMT004",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Select an inventory file to upload",
			Code:    "FMT005",
		},
	},

	// =========================================================================
	// Parse Errors (PRS001-PRS002)
	// =========================================================================
	{
		pattern: "row error budget exceeded",
		msg: UserMessage{
			Message: "Too many rows in the file could not be read",
			Action:  "Check the file for broken quoting or mixed delimiters",
			Code:    "PRS001",
		},
	},
	{
		pattern: "no header row",
		msg: UserMessage{
			Message: "No header row was found",
			Action:  "Make sure column names appear in the first 20 rows",
			Code:    "PRS002",
		},
	},

	// =========================================================================
	// Mapping Errors (MAP001-MAP003)
	// =========================================================================
	{
		pattern: "missing required column",
		msg: UserMessage{
			Message: "UPC and SKU columns must both be mapped",
			Action:  "Choose a column for UPC and for SKU",
			Code:    "MAP001",
		},
	},
	{
		pattern: "column not found",
		msg: UserMessage{
			Message: "A mapped column is not in the file",
			Action:  "Pick column names exactly as they appear in the header",
			Code:    "MAP002",
		},
	},
	{
		pattern: "invalid column mapping",
		msg: UserMessage{
			Message: "The column mapping is invalid",
			Action:  "Map each field to a different column and include UPC and SKU",
			Code:    "MAP001",
		},
	},
	{
		pattern: "invalid severity thresholds",
		msg: UserMessage{
			Message: "Severity thresholds are out of order",
			Action:  "Use thresholds of at least 2 with low <= medium <= high <= critical",
			Code:    "MAP003",
		},
	},

	// =========================================================================
	// Run Errors (RUN001-RUN008)
	// =========================================================================
	{
		pattern: "analysis not found",
		msg: UserMessage{
			Message: "Analysis not found",
			Action:  "Check the analysis ID or start a new analysis",
			Code:    "RUN001",
		},
	},
	{
		pattern: "too many concurrent analyses",
		msg: UserMessage{
			Message: "System is busy processing other analyses",
			Action:  "Please wait a moment and try again",
			Code:    "RUN002",
		},
	},
	{
		pattern: "analysis cancelled",
		msg: UserMessage{
			Message: "Analysis was cancelled",
			Action:  "Start a new analysis when ready",
			Code:    "RUN003",
		},
	},
	{
		pattern: "time budget exceeded",
		msg: UserMessage{
			Message: "Analysis took too long and was stopped",
			Action:  "Split the file into smaller uploads",
			Code:    "RUN004",
		},
	},
	{
		pattern: "not resumable",
		msg: UserMessage{
			Message: "Analysis is not waiting for a column mapping",
			Action:  "Start a new analysis to use a different mapping",
			Code:    "RUN005",
		},
	},
	{
		pattern: "source file unavailable",
		msg: UserMessage{
			Message: "The uploaded file is no longer available",
			Action:  "Upload the file again",
			Code:    "RUN008",
		},
	},
	{
		pattern: "already finalized",
		msg: UserMessage{
			Message: "Analysis has already finished",
			Action:  "Start a new analysis to re-run it",
			Code:    "RUN006",
		},
	},
	{
		pattern: "shutting down",
		msg: UserMessage{
			Message: "Service is restarting",
			Action:  "Please try again in a few moments",
			Code:    "RUN007",
		},
	},

	// =========================================================================
	// Conflict Errors (CFL001-CFL002)
	// =========================================================================
	{
		pattern: "conflict not found",
		msg: UserMessage{
			Message: "Conflict not found",
			Action:  "Refresh the conflict list",
			Code:    "CFL001",
		},
	},
	{
		pattern: "invalid status transition",
		msg: UserMessage{
			Message: "The conflict cannot move to that status",
			Action:  "Follow NEW, ASSIGNED, IN_PROGRESS, then RESOLVED or DISMISSED",
			Code:    "CFL002",
		},
	},

	// =========================================================================
	// Database Errors (DB001-DB007)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this ID already exists",
			Action:  "Please try again",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Please try again",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Please try again",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key constraint",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Check that the analysis still exists",
			Code:    "DB003",
		},
	},
	{
		pattern: "violates foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Check that the analysis still exists",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// =========================================================================
	// Request Errors (REQ001-REQ003)
	// =========================================================================
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "REQ001",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Check your connection and try again",
			Code:    "REQ002",
		},
	},
	{
		pattern: "rate limit exceeded",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Wait a minute and try again",
			Code:    "REQ003",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
// Support staff should check application logs for the original technical
// error when users report ERR000.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
//
// Example:
//
//	err := fmt.Errorf("detect format: %w", ingest.ErrUnknownFormat)
//	msg := MapError(err)
//	// msg.Code == "FMT001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
//
// This is what a failed run stores as its errorMessage.
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing checks if an error matches a known pattern and should be shown to users.
// Returns true if the error matches a specific pattern (not the generic ERR000 fallback).
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	msg := MapError(err)
	return msg.Code != defaultMessage.Code
}

// UserError wraps a technical error with a user-friendly message.
// The original error is preserved for logging while providing a clean message for users.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError creates a UserError by mapping a technical error to a user-friendly message.
// Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}

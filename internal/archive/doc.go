// Package archive defines the core types shared by the search, fetch, capture
// and reporting subsystems.
//
// A run turns a keyword into CandidateItems (search), filters them by blocked
// substrings and by the persisted domain ledger, assigns each survivor a
// sequential ID, enriches it with OpenGraph metadata, captures a screenshot,
// and writes the sorted ResultRecords into a Report.
package archive

// Package sheet models spreadsheet rows as seen by the workflow drivers and
// the contracts for reading rows and writing results back.
//
// Status and image cells are normalized once, when a row is read, into a
// Marker: Present with a reference, Absent, or Errored with the reason the
// cell carries. Physical columns are resolved from the header row into a
// ColumnMap keyed by logical Role, so writers never depend on column order.
package sheet

// Package feishu reads task rows from a Feishu spreadsheet and writes results
// back to it.
//
// The client authenticates with a tenant access token that is cached until
// shortly before it expires. Header columns are resolved through
// sheet.ColumnCache so a reordered sheet is picked up on the next fetch.
package feishu

// Package output renders command results as a table, JSON or YAML.
//
// Table output is derived from struct fields: the json tag names the
// column, `table:"-"` hides a field and `table:"wide"` shows it only with
// --wide. JSON and YAML output use the json tags so both formats agree on
// field names.
package output

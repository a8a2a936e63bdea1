// Package migration creates and versions the runtime's own tables from
// embedded SQL, one file set per supported database dialect.
//
// This is distinct from the schema package: schema runs plugin-authored
// migrations against plugin entity tables, while this package only manages
// the fixed tables the runtime itself stores plugin code and state in.
package migration

// Package store provides the plugin's record persistence behind one contract.
//
// # Architecture
//
// Callers depend only on two interfaces:
//
//   - Backend: owns collections and the file or connection behind them
//   - Collection: CRUD and filtered queries over Records
//
// Two backends implement them:
//
//   - DocumentStore: every collection in memory, mirrored to a single JSON file
//   - SQLiteStore: one table per collection in an embedded SQLite database
//
// # Data Model
//
// A Record is an id plus a map of JSON values. Known collections:
//
//   - channel, chat_presets, tools, processors, tools_groups
//   - user_states, triggers, history
//
// Each collection has a Schema listing its native fields. In SQLite a native
// field with a string value gets its own indexed column; every other field is
// serialized into the data blob column. Reads merge both back into one map.
//
// # Document File Format
//
// One JSON object keyed by collection name, each value an array of flattened
// records:
//
//	{"channel": [{"id": "c1", "name": "general", "tools": ["t1"]}]}
//
// The file is rewritten through a temp file and rename on every mutation.
//
// # Queries
//
// ListItemsByEqFilter and ListItemsByInQuery are full scans on the document
// backend. On SQLite, predicates on "id" or native columns with string values
// become WHERE clauses; the rest are checked in memory after the blob decodes.
//
// # Error Handling
//
// Absence is not an error: GetItem returns nil and RemoveItem ignores missing
// ids. Rows whose blob fails to decode are logged and handled per Schema
// (skipped, or returned with native fields only). Open failures are returned.
//
// # Testing
//
// Use NewMemoryStore() for a fast in-memory backend and
// OpenSQLiteStore(":memory:") for real SQLite.
package store

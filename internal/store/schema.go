// ABOUTME: Per-entity schema descriptors mapping collections to native columns
// ABOUTME: Drives DDL generation, write splitting and filter planning for SQLite

package store

import (
	"strings"
	"unicode"
)

// Known collection names
const (
	CollectionChannel     = "channel"
	CollectionChatPresets = "chat_presets"
	CollectionTools       = "tools"
	CollectionProcessors  = "processors"
	CollectionUserStates  = "user_states"
	CollectionTriggers    = "triggers"
	CollectionToolsGroups = "tools_groups"
	CollectionHistory     = "history"
)

// KnownCollections lists every collection the plugin uses, in migration order.
var KnownCollections = []string{
	CollectionChannel,
	CollectionChatPresets,
	CollectionTools,
	CollectionProcessors,
	CollectionUserStates,
	CollectionTriggers,
	CollectionToolsGroups,
	CollectionHistory,
}

// CorruptPolicy decides what a read does with a row whose JSON blob fails to decode
type CorruptPolicy int

const (
	// CorruptEmptyBlob returns the record with native columns only
	CorruptEmptyBlob CorruptPolicy = iota
	// CorruptSkipRow drops the row from the result
	CorruptSkipRow
)

func (p CorruptPolicy) String() string {
	switch p {
	case CorruptSkipRow:
		return "skip_row"
	default:
		return "empty_blob"
	}
}

// Schema describes how one entity type is laid out in the relational backend.
// Native fields get real columns; everything else goes in the data blob.
type Schema struct {
	Collection string
	Entity     string
	Native     []string
	OnCorrupt  CorruptPolicy
}

var schemas = map[string]Schema{
	CollectionChannel:     {Collection: CollectionChannel, Entity: "Channel", Native: []string{"name", "description"}},
	CollectionChatPresets: {Collection: CollectionChatPresets, Entity: "ChatPreset", Native: []string{"name", "description"}},
	CollectionTools:       {Collection: CollectionTools, Entity: "Tool", Native: []string{"name", "description"}},
	CollectionProcessors:  {Collection: CollectionProcessors, Entity: "Processor", Native: []string{"name", "description"}},
	CollectionToolsGroups: {Collection: CollectionToolsGroups, Entity: "ToolsGroup", Native: []string{"name", "description"}},
	CollectionUserStates:  {Collection: CollectionUserStates, Entity: "UserState", Native: []string{"userId", "channelId"}, OnCorrupt: CorruptSkipRow},
	CollectionTriggers:    {Collection: CollectionTriggers, Entity: "Trigger", Native: []string{"name", "channelId"}, OnCorrupt: CorruptSkipRow},
	CollectionHistory:     {Collection: CollectionHistory, Entity: "History", Native: []string{"channelId", "userId"}, OnCorrupt: CorruptSkipRow},
}

// SchemaFor returns the descriptor for a collection. Unknown collections get a
// schema with no native columns.
func SchemaFor(collection string) Schema {
	if s, ok := schemas[collection]; ok {
		return s
	}
	return Schema{Collection: collection, Entity: "Record"}
}

// IsNative reports whether field has its own column
func (s Schema) IsNative(field string) bool {
	for _, n := range s.Native {
		if n == field {
			return true
		}
	}
	return false
}

// TableName returns the sanitized SQL table name for the collection
func (s Schema) TableName() string {
	return sanitizeIdentifier(s.Collection)
}

// sanitizeIdentifier maps a name onto [A-Za-z0-9_], prefixing names that start with a digit.
func sanitizeIdentifier(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || (out[0] >= '0' && out[0] <= '9') {
		out = "c_" + out
	}
	return out
}

// quoteIdent double-quotes an identifier for SQLite
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

package badger

// Database Key Namespace
// ======================
//
// The catalog is a flat GUID → metadata map, so a single namespace is
// enough. The prefix leaves room for secondary indexes without a schema
// migration.
//
// Data Type      Prefix   Key Format     Value Type
// ================================================================
// Entry          "e:"     e:<guid>       catalog.Metadata (JSON)

const prefixEntry = "e:"

// keyEntry returns the key of the entry with the given GUID.
func keyEntry(guid string) []byte {
	return []byte(prefixEntry + guid)
}

package badger

import (
	"encoding/json"
	"fmt"

	"github.com/marmos91/bartender/pkg/catalog"
)

// Entries are stored as JSON. Metadata is small and read far more often
// than written, and JSON keeps the database inspectable with badger's CLI.

func encodeMetadata(md *catalog.Metadata) ([]byte, error) {
	data, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return data, nil
}

func decodeMetadata(data []byte) (*catalog.Metadata, error) {
	md := &catalog.Metadata{}
	if err := json.Unmarshal(data, md); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return md, nil
}

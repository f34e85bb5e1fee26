package remote

import (
	"encoding/json"
	"fmt"
)

// decodeList decodes a media server list response into a slice of T. Servers
// are inconsistent about the shape: most endpoints return a bare JSON array,
// some wrap it in an {"Items": [...]} envelope, and the occasional endpoint
// returns a single object. All three decode to the same slice.
func decodeList[T any](data []byte) ([]T, error) {
	var asList []T
	if err := json.Unmarshal(data, &asList); err == nil {
		return asList, nil
	}
	var envelope struct {
		Items json.RawMessage `json:"Items"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode list response: %w", err)
	}
	if envelope.Items != nil {
		var items []T
		if err := json.Unmarshal(envelope.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to decode Items envelope: %w", err)
		}
		return items, nil
	}
	var single T
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("failed to decode single-object response: %w", err)
	}
	return []T{single}, nil
}

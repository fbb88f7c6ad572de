package asset

import "encoding/json"

// parseMetadataJSON decodes a directory source's `_metadata`/`.metadata`
// document. No third-party JSON library appears anywhere in the reference
// corpus, so this one spot uses encoding/json directly rather than reaching
// for an ecosystem substitute that nothing else in the module would justify
// depending on.
func parseMetadataJSON(raw []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

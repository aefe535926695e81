package codec

import "encoding/json"

// mapV2Shape mirrors the v2.0 on-disk layout documented in spec.md §6.
type mapV2Shape struct {
	Metadata MapMetadata       `json:"metadata"`
	Mappings map[string]string `json:"mappings"`
}

// UnmarshalJSON accepts both the v2.0 shape ({"metadata":..., "mappings":...})
// and the legacy v1.0 shape (a flat token->original object), per spec.md
// §6 and §9's "accepted set" note. New writers always emit v2.0 (see
// MarshalJSON).
func (m *Map) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	if _, hasMappings := probe["mappings"]; hasMappings {
		var v2 mapV2Shape
		if err := json.Unmarshal(data, &v2); err != nil {
			return err
		}
		m.Metadata = v2.Metadata
		m.Mappings = v2.Mappings
		if m.Metadata.Version == "" {
			m.Metadata.Version = "2.0"
		}
		return nil
	}

	// v1.0: flat token -> original map, no metadata envelope.
	flat := make(map[string]string, len(probe))
	for k, raw := range probe {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		flat[k] = v
	}
	m.Mappings = flat
	m.Metadata = MapMetadata{Version: "1.0", Total: len(flat)}
	return nil
}

// MarshalJSON always emits the v2.0 shape (spec.md §9: "new writers must
// emit v2.0").
func (m Map) MarshalJSON() ([]byte, error) {
	meta := m.Metadata
	if meta.Version == "" {
		meta.Version = "2.0"
	}
	return json.Marshal(mapV2Shape{Metadata: meta, Mappings: m.Mappings})
}

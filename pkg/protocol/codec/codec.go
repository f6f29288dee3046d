// Package codec holds the serialization formats used for trace records.
package codec

import "strings"

// Codec marshals typed values. Implementations are deterministic so that two
// runs with the same seed produce byte-identical traces.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types and short names to codecs.
type Registry struct {
	byType map[string]Codec
	byName map[string]Codec
}

// NewRegistry returns a registry holding JSON and Protobuf. CBOR needs an
// explicit Register(CBOR()) since building its modes can fail.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Codec), byName: make(map[string]Codec)}
	r.Register(JSON())
	r.Register(Proto())
	return r
}

// Register adds c under its content type and short name.
func (r *Registry) Register(c Codec) {
	r.byType[c.ContentType()] = c
	r.byName[shortName(c.ContentType())] = c
}

// Get returns a codec by content type, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }

// Lookup returns a codec by short name (json, cbor, proto), or nil.
func (r *Registry) Lookup(name string) Codec { return r.byName[strings.ToLower(name)] }

func shortName(contentType string) string {
	switch contentType {
	case "application/json":
		return "json"
	case "application/cbor":
		return "cbor"
	case "application/x-protobuf":
		return "proto"
	default:
		return contentType
	}
}

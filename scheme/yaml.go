/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package scheme

import (
	"bytes"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/cifrazia/cats-go/catserr"
)

type yamlScheme struct{}

func (yamlScheme) TypeID() uint8    { return 2 }
func (yamlScheme) TypeName() string { return "yaml" }

func (yamlScheme) Loads(buf []byte) (any, error) {
	var data any
	if err := yamlv3.Unmarshal(buf, &data); err != nil {
		return nil, catserr.Wrap(catserr.KindMalformedData, err, "failed to parse YAML")
	}
	return normalizeYAML(data), nil
}

func (yamlScheme) Dumps(data any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yamlv3.NewEncoder(&buf)
	if err := enc.Encode(data); err != nil {
		return nil, catserr.Wrap(catserr.KindMalformedData, err, "failed to dump YAML")
	}
	_ = enc.Close()
	out := bytes.TrimSuffix(buf.Bytes(), []byte("...\n"))
	out = bytes.TrimSuffix(out, []byte("\n"))
	return out, nil
}

// normalizeYAML rewrites map[string]interface{} produced by yaml.v3 (it
// already decodes mappings as map[string]any, unlike yaml.v2's
// map[interface{}]interface{}) recursively so nested documents are
// consistent with what the JSON/MsgPack schemes would produce.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}

package models

import (
	"encoding/json"
	"strings"
)

// Keys decoded into named fields; compared lowercased like encoding/json does.
var (
	productKeys = keySet("productId", "createdAt", "updatedAt", "name", "category", "variants", "quantity", "version", "customFields")
	variantKeys = keySet("variantId", "name", "unitPrice", "quantity", "restockLevel", "baseProductId", "customFields")
)

func keySet(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[strings.ToLower(k)] = true
	}
	return m
}

// UnmarshalJSON keeps attributes without a named field in CustomFields.
func (p *Product) UnmarshalJSON(data []byte) error {
	type plain Product
	var out plain
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	fields, err := withUnknown(data, productKeys, out.CustomFields)
	if err != nil {
		return err
	}
	out.CustomFields = fields
	*p = Product(out)
	return nil
}

// UnmarshalJSON keeps attributes without a named field in CustomFields.
func (v *Variant) UnmarshalJSON(data []byte) error {
	type plain Variant
	var out plain
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	fields, err := withUnknown(data, variantKeys, out.CustomFields)
	if err != nil {
		return err
	}
	out.CustomFields = fields
	*v = Variant(out)
	return nil
}

// withUnknown adds every key of the JSON object in data missing from known
// to fields. Explicit customFields entries win.
func withUnknown(data []byte, known map[string]bool, fields map[string]any) (map[string]any, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for k, msg := range raw {
		if known[strings.ToLower(k)] {
			continue
		}
		if _, ok := fields[k]; ok {
			continue
		}
		var val any
		if err := json.Unmarshal(msg, &val); err != nil {
			return nil, err
		}
		if fields == nil {
			fields = make(map[string]any)
		}
		fields[k] = val
	}
	return fields, nil
}

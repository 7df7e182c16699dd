package config

import (
	"bytes"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"
)

// LoadFile reads a parameter bundle from path. The format follows the extension:
// ".json" and ".hcl" are parsed as text, anything else is treated as a bundle
// previously written by Save (such as <STORE_PATH>/config).
func LoadFile(path string) (Params, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
		p, err := LoadJSON(data)
		if err != nil {
			return nil, errors.Wrapf(err, "loading config %s", path)
		}
		return p, nil
	case ".hcl":
		return LoadHCL(path)
	default:
		return Load(path)
	}
}

// LoadJSON parses a JSON object into Params. Integral numbers become int64 and
// all other numbers float64.
func LoadJSON(data []byte) (Params, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "parsing JSON")
	}
	p := make(Params, len(raw))
	for k, v := range raw {
		p[k] = normalizeJSON(v)
	}
	return p, nil
}

func normalizeJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeJSON(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeJSON(e)
		}
		return out
	}
	return v
}

// LoadHCL reads top-level attributes of an HCL file, e.g.
//
//	MAX_EPOCH          = 10
//	INPUTS_IDS_DATASET = ["video", "state_below"]
func LoadHCL(path string) (Params, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "failed to parse HCL file %s", path)
	}
	attrs, diags := f.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "failed to decode HCL file %s", path)
	}
	p := make(Params, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, errors.Wrapf(diags, "evaluating %s in %s", name, path)
		}
		v, err := fromCty(val)
		if err != nil {
			return nil, errors.Wrapf(err, "converting %s in %s", name, path)
		}
		p[name] = v
	}
	return p, nil
}

func fromCty(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsKnown() {
		return nil, errors.New("value is not known")
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return i, nil
			}
		}
		f, _ := bf.Float64()
		return f, nil
	case ty.IsListType(), ty.IsTupleType(), ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, e := it.Element()
			ev, err := fromCty(e)
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
		return out, nil
	case ty.IsMapType(), ty.IsObjectType():
		out := make(map[string]any)
		for it := v.ElementIterator(); it.Next(); {
			k, e := it.Element()
			ev, err := fromCty(e)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = ev
		}
		return out, nil
	}
	return nil, errors.Errorf("unsupported HCL type %s", ty.FriendlyName())
}

package config

import (
	"strings"

	"github.com/pkg/errors"
)

// ParseOverride splits "KEY=VALUE". VALUE is decoded as a JSON literal when it
// parses as one (numbers, booleans, null, lists), and kept as a raw string otherwise.
func ParseOverride(s string) (string, any, error) {
	key, raw, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, errors.Wrapf(ErrBadOverride, "%q", s)
	}
	raw = strings.TrimSpace(raw)
	p, err := LoadJSON([]byte(`{"v":` + raw + `}`))
	if err != nil {
		return key, raw, nil
	}
	return key, p["v"], nil
}

// Overrides collects repeated -set flags. It implements flag.Value.
type Overrides []string

func (o *Overrides) String() string { return strings.Join(*o, ",") }

func (o *Overrides) Set(v string) error {
	*o = append(*o, v)
	return nil
}

// Apply parses every override and writes it into p.
func (o Overrides) Apply(p Params) error {
	for _, s := range o {
		k, v, err := ParseOverride(s)
		if err != nil {
			return err
		}
		p[k] = v
	}
	return nil
}

package config

// Reader wraps Params with a sticky error so that long runs of lookups can be
// checked once at the end. After the first failure every accessor returns the
// zero value and Err reports that first failure.
type Reader struct {
	p   Params
	err error
}

// NewReader returns a Reader over p.
func NewReader(p Params) *Reader {
	return &Reader{p: p}
}

// Err returns the first error encountered.
func (r *Reader) Err() error { return r.err }

func keep[T any](r *Reader, v T, err error) T {
	if r.err != nil {
		var zero T
		return zero
	}
	if err != nil {
		r.err = err
	}
	return v
}

func (r *Reader) Get(key string) any {
	v, err := r.p.Get(key)
	return keep(r, v, err)
}

func (r *Reader) Int(key string) int {
	v, err := r.p.Int(key)
	return keep(r, v, err)
}

func (r *Reader) IntOr(key string, def int) int {
	v, err := r.p.IntOr(key, def)
	return keep(r, v, err)
}

func (r *Reader) OptionalInt(key string) *int {
	v, err := r.p.OptionalInt(key)
	return keep(r, v, err)
}

func (r *Reader) Float(key string) float64 {
	v, err := r.p.Float(key)
	return keep(r, v, err)
}

func (r *Reader) FloatOr(key string, def float64) float64 {
	v, err := r.p.FloatOr(key, def)
	return keep(r, v, err)
}

func (r *Reader) Bool(key string) bool {
	v, err := r.p.Bool(key)
	return keep(r, v, err)
}

func (r *Reader) BoolOr(key string, def bool) bool {
	v, err := r.p.BoolOr(key, def)
	return keep(r, v, err)
}

func (r *Reader) String(key string) string {
	v, err := r.p.String(key)
	return keep(r, v, err)
}

func (r *Reader) StringOr(key, def string) string {
	v, err := r.p.StringOr(key, def)
	return keep(r, v, err)
}

func (r *Reader) OptionalString(key string) *string {
	v, err := r.p.OptionalString(key)
	return keep(r, v, err)
}

func (r *Reader) Strings(key string) []string {
	v, err := r.p.Strings(key)
	return keep(r, v, err)
}

func (r *Reader) StringsOr(key string, def []string) []string {
	v, err := r.p.StringsOr(key, def)
	return keep(r, v, err)
}

func (r *Reader) IntsOr(key string, def []int) []int {
	v, err := r.p.IntsOr(key, def)
	return keep(r, v, err)
}

package segment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/KaramelBytes/manifold-cli/internal/dataset"
)

// Parse reads a filter written as "<field>:<type>:<args>", for example
// "age:range:18,65", "state:include:CA,NY" or "flag:exclude:true". The field
// is resolved against d.
func Parse(text string, d *dataset.Dataset) (Filter, error) {
	parts := strings.SplitN(text, ":", 3)
	if len(parts) != 3 {
		return Filter{}, fmt.Errorf("invalid filter %q (want <field>:<range|include|exclude>:<values>)", text)
	}
	name := strings.TrimSpace(parts[0])
	key := d.FieldIndex(name)
	if key < 0 {
		return Filter{}, fmt.Errorf("invalid filter %q: unknown field %q", text, name)
	}
	f := Filter{Name: name, Key: key, Type: FilterType(strings.ToLower(strings.TrimSpace(parts[1])))}
	args := splitValues(parts[2])
	switch f.Type {
	case Range:
		if len(args) != 2 {
			return Filter{}, fmt.Errorf("invalid filter %q: range needs two bounds", text)
		}
		for i, a := range args {
			v, err := strconv.ParseFloat(a, 64)
			if err != nil {
				return Filter{}, fmt.Errorf("invalid filter %q: bound %q: %w", text, a, err)
			}
			f.Bounds[i] = v
		}
		if f.Bounds[0] > f.Bounds[1] {
			return Filter{}, fmt.Errorf("invalid filter %q: lower bound above upper bound", text)
		}
	case Include, Exclude:
		if len(args) == 0 {
			return Filter{}, fmt.Errorf("invalid filter %q: no values", text)
		}
		for _, a := range args {
			f.Values = append(f.Values, dataset.ParseValue(a, dataset.ParseOptions{}))
		}
	default:
		return Filter{}, fmt.Errorf("invalid filter %q: unsupported type %q", text, parts[1])
	}
	return f, nil
}

// ParseSegment reads one segment as filters joined by ';'.
func ParseSegment(text string, d *dataset.Dataset) ([]Filter, error) {
	var out []Filter
	for _, part := range strings.Split(text, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		f, err := Parse(strings.TrimSpace(part), d)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func splitValues(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinValues(vals []dataset.Value) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = dataset.FormatValue(v)
	}
	return strings.Join(parts, ",")
}

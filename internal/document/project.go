package document

import (
	"fmt"

	"github.com/automerge/automerge-go"
)

// projectMap converts an automerge map into plain Go values. Numbers are
// normalized to float64 so projections compare equal regardless of how a
// writer encoded them.
func projectMap(m *automerge.Map) (map[string]any, error) {
	values, err := m.Values()
	if err != nil {
		return nil, fmt.Errorf("failed to read map values: %w", err)
	}
	out := make(map[string]any, len(values))
	for key, value := range values {
		projected, err := projectValue(value)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		out[key] = projected
	}
	return out, nil
}

func projectList(l *automerge.List) ([]any, error) {
	values, err := l.Values()
	if err != nil {
		return nil, fmt.Errorf("failed to read list values: %w", err)
	}
	out := make([]any, 0, len(values))
	for i, value := range values {
		projected, err := projectValue(value)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		out = append(out, projected)
	}
	return out, nil
}

func projectValue(v *automerge.Value) (any, error) {
	switch v.Kind() {
	case automerge.KindMap:
		return projectMap(v.Map())
	case automerge.KindList:
		return projectList(v.List())
	case automerge.KindStr:
		return v.Str(), nil
	case automerge.KindInt64:
		return float64(v.Int64()), nil
	case automerge.KindUint64:
		return float64(v.Uint64()), nil
	case automerge.KindFloat64:
		return v.Float64(), nil
	case automerge.KindBool:
		return v.Bool(), nil
	case automerge.KindBytes:
		return v.Bytes(), nil
	case automerge.KindText:
		text, err := v.Text().Get()
		if err != nil {
			return nil, fmt.Errorf("failed to read text: %w", err)
		}
		return text, nil
	case automerge.KindNull, automerge.KindVoid:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported value kind %v", v.Kind())
	}
}

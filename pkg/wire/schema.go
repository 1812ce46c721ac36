package wire

import "fmt"

// Kind is the JSON shape a field must have.
type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindObject Kind = "object"
	KindArray  Kind = "array"
)

// Field describes one property of an object schema.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
	Enum     []string // for KindString: the only admissible values
	Nested   *Schema  // for KindObject: the schema of the value
	Element  *Schema  // for KindArray: the schema of each element
}

// Schema is a declarative description of an admissible JSON object. It is
// evaluated against untyped input at the system boundary and returns a
// structured result instead of panicking or throwing.
type Schema struct {
	Name   string
	Fields []Field
	// AllowUnknown admits properties not listed in Fields. The default is to
	// reject them, which keeps remote participants from smuggling extra
	// state through relayed payloads.
	AllowUnknown bool
}

// FieldError locates one validation failure.
type FieldError struct {
	Path    string
	Message string
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Result collects the outcome of validating one value.
type Result struct {
	Errors []FieldError
}

// Valid reports whether validation found no errors.
func (r *Result) Valid() bool {
	return len(r.Errors) == 0
}

func (r *Result) addError(path, format string, a ...any) {
	r.Errors = append(r.Errors, FieldError{Path: path, Message: fmt.Sprintf(format, a...)})
}

// Validate checks v (typically the result of unmarshalling JSON into `any`)
// against the schema. It never panics on malformed input.
func (s *Schema) Validate(v any) *Result {
	res := &Result{}
	s.validateObject(res, s.Name, v)
	return res
}

func (s *Schema) validateObject(res *Result, path string, v any) {
	obj, ok := v.(map[string]any)
	if !ok {
		res.addError(path, "expected an object, got %T", v)
		return
	}

	known := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		known[f.Name] = true
		fieldPath := path + "." + f.Name
		value, present := obj[f.Name]
		if !present {
			if f.Required {
				res.addError(fieldPath, "required field is missing")
			}
			continue
		}
		validateField(res, fieldPath, f, value)
	}

	if !s.AllowUnknown {
		for key := range obj {
			if !known[key] {
				res.addError(path+"."+key, "unknown field")
			}
		}
	}
}

func validateField(res *Result, path string, f Field, value any) {
	switch f.Kind {
	case KindString:
		str, ok := value.(string)
		if !ok {
			res.addError(path, "expected a string, got %T", value)
			return
		}
		if len(f.Enum) > 0 && !contains(f.Enum, str) {
			res.addError(path, "value %q is not one of %v", str, f.Enum)
		}
	case KindNumber:
		if _, ok := value.(float64); !ok {
			res.addError(path, "expected a number, got %T", value)
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			res.addError(path, "expected a boolean, got %T", value)
		}
	case KindObject:
		if f.Nested == nil {
			if _, ok := value.(map[string]any); !ok {
				res.addError(path, "expected an object, got %T", value)
			}
			return
		}
		nested := *f.Nested
		nested.Name = ""
		nested.validateObject(res, path, value)
	case KindArray:
		items, ok := value.([]any)
		if !ok {
			res.addError(path, "expected an array, got %T", value)
			return
		}
		if f.Element != nil {
			for i, item := range items {
				elem := *f.Element
				elem.Name = ""
				elem.validateObject(res, fmt.Sprintf("%s[%d]", path, i), item)
			}
		}
	default:
		res.addError(path, "schema declares unknown kind %q", f.Kind)
	}
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

package eventide

import (
	"strings"

	"github.com/AshkanYarmoradi/go-eventide/adapters"
)

// StreamName addresses either a category or a single entity stream.
//
// The text form is "category[:type1+type2][-id1[+id2...]]":
//
//	account                 category
//	account-123             entity stream
//	account:command-123     entity stream in the typed category "account:command"
//	account-123+456         entity stream with a compound id, cardinal id "123"
type StreamName struct {
	// Category is the family the stream belongs to (e.g., "account").
	Category string

	// Types qualify the category (e.g., "command", "position").
	Types []string

	// IDs hold the entity id segment. The first id is the cardinal id.
	IDs []string
}

// NewStreamName creates a StreamName from a category and optional ids.
func NewStreamName(category string, ids ...string) StreamName {
	return StreamName{Category: category, IDs: ids}
}

// ParseStreamName parses stream name text.
// Returns a MalformedStreamNameError if the text violates the grammar.
func ParseStreamName(text string) (StreamName, error) {
	if text == "" {
		return StreamName{}, NewMalformedStreamNameError(text, "stream name is empty")
	}

	categoryPart, idPart, hasID := strings.Cut(text, adapters.IDSeparator)

	name, typePart, hasTypes := strings.Cut(categoryPart, adapters.TypeSeparator)
	if name == "" {
		return StreamName{}, NewMalformedStreamNameError(text, "category is required")
	}
	if strings.ContainsAny(name, adapters.CompoundSeparator+",") {
		return StreamName{}, NewMalformedStreamNameError(text, "category contains a separator")
	}

	sn := StreamName{Category: name}

	if hasTypes {
		if strings.Contains(typePart, adapters.TypeSeparator) {
			return StreamName{}, NewMalformedStreamNameError(text, "category has more than one type segment")
		}
		types, ok := splitTokens(typePart)
		if !ok {
			return StreamName{}, NewMalformedStreamNameError(text, "category type is empty")
		}
		for _, t := range types {
			if strings.Contains(t, ",") {
				return StreamName{}, NewMalformedStreamNameError(text, "category type contains a comma")
			}
		}
		sn.Types = types
	}

	if hasID {
		ids, ok := splitTokens(idPart)
		if !ok {
			return StreamName{}, NewMalformedStreamNameError(text, "id segment is empty")
		}
		sn.IDs = ids
	}

	return sn, nil
}

// MustParseStreamName is like ParseStreamName but panics on error.
// Intended for constants and tests.
func MustParseStreamName(text string) StreamName {
	sn, err := ParseStreamName(text)
	if err != nil {
		panic(err)
	}
	return sn
}

func splitTokens(s string) ([]string, bool) {
	if s == "" {
		return nil, false
	}
	tokens := strings.Split(s, adapters.CompoundSeparator)
	for _, t := range tokens {
		if t == "" {
			return nil, false
		}
	}
	return tokens, true
}

// String returns the text form of the stream name. It is the exact inverse
// of ParseStreamName.
func (s StreamName) String() string {
	var b strings.Builder
	b.WriteString(s.Category)
	if len(s.Types) > 0 {
		b.WriteString(adapters.TypeSeparator)
		b.WriteString(strings.Join(s.Types, adapters.CompoundSeparator))
	}
	if len(s.IDs) > 0 {
		b.WriteString(adapters.IDSeparator)
		b.WriteString(strings.Join(s.IDs, adapters.CompoundSeparator))
	}
	return b.String()
}

// IsZero reports whether the StreamName is empty.
func (s StreamName) IsZero() bool {
	return s.Category == "" && len(s.Types) == 0 && len(s.IDs) == 0
}

// IsCategory reports whether the name addresses a category rather than a stream.
func (s StreamName) IsCategory() bool {
	return len(s.IDs) == 0
}

// ID returns the full id segment, compound ids joined by "+".
func (s StreamName) ID() string {
	return strings.Join(s.IDs, adapters.CompoundSeparator)
}

// CardinalID returns the first id, or "" for a category.
func (s StreamName) CardinalID() string {
	if len(s.IDs) == 0 {
		return ""
	}
	return s.IDs[0]
}

// HasType reports whether the category carries the given type.
func (s StreamName) HasType(t string) bool {
	for _, typ := range s.Types {
		if typ == t {
			return true
		}
	}
	return false
}

// WithTypes returns a copy of the StreamName with the types appended.
func (s StreamName) WithTypes(types ...string) StreamName {
	merged := make([]string, 0, len(s.Types)+len(types))
	merged = append(merged, s.Types...)
	merged = append(merged, types...)
	s.Types = merged
	return s
}

// CategoryStream returns the category the store polls for this stream: the
// ids are removed, the types are kept.
func (s StreamName) CategoryStream() StreamName {
	return StreamName{Category: s.Category, Types: s.Types}
}

// CategoryOf strips ids and types, leaving the bare category.
func CategoryOf(s StreamName) StreamName {
	return StreamName{Category: s.Category}
}

// Hash64 computes the store's hash_64 of a value.
func Hash64(value string) int64 {
	return adapters.Hash64(value)
}

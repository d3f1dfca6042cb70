package model

import "fmt"

// SchemaAttribute describes one attribute of indexed documents
type SchemaAttribute struct {
	Name       string `json:"name" yaml:"name"`
	Identifier bool   `json:"identifier,omitempty" yaml:"identifier"`
	Indexed    bool   `json:"indexed,omitempty" yaml:"indexed"`
	Displayed  bool   `json:"displayed,omitempty" yaml:"displayed"`
	Ranked     bool   `json:"ranked,omitempty" yaml:"ranked"`
}

// Schema is the ordered attribute list of an index. An attribute's position
// is its AttributeID.
type Schema struct {
	Attributes []SchemaAttribute `json:"attributes"`
}

// NewSchema validates attributes and returns the schema
func NewSchema(attributes []SchemaAttribute) (*Schema, error) {
	s := &Schema{Attributes: attributes}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that attribute names are unique and exactly one attribute
// is the identifier.
func (s *Schema) Validate() error {
	if len(s.Attributes) == 0 {
		return fmt.Errorf("schema has no attributes")
	}
	if len(s.Attributes) > 1<<16 {
		return fmt.Errorf("schema has %d attributes, at most %d allowed", len(s.Attributes), 1<<16)
	}

	seen := make(map[string]bool, len(s.Attributes))
	identifiers := 0
	for _, attr := range s.Attributes {
		if attr.Name == "" {
			return fmt.Errorf("schema attribute with empty name")
		}
		if seen[attr.Name] {
			return fmt.Errorf("duplicate schema attribute %q", attr.Name)
		}
		seen[attr.Name] = true
		if attr.Identifier {
			identifiers++
		}
	}
	if identifiers != 1 {
		return fmt.Errorf("schema must have exactly one identifier attribute, found %d", identifiers)
	}
	return nil
}

// IdentifierName returns the name of the identifier attribute
func (s *Schema) IdentifierName() string {
	for _, attr := range s.Attributes {
		if attr.Identifier {
			return attr.Name
		}
	}
	return ""
}

// AttributeID returns the id of the attribute called name
func (s *Schema) AttributeID(name string) (AttributeID, bool) {
	for i, attr := range s.Attributes {
		if attr.Name == name {
			return AttributeID(i), true
		}
	}
	return 0, false
}

// AttributeName returns the name of attribute id, or "" when out of range
func (s *Schema) AttributeName(id AttributeID) string {
	if int(id) >= len(s.Attributes) {
		return ""
	}
	return s.Attributes[id].Name
}

// RankedAttributes returns the ids of every ranked attribute
func (s *Schema) RankedAttributes() []AttributeID {
	var ids []AttributeID
	for i, attr := range s.Attributes {
		if attr.Ranked {
			ids = append(ids, AttributeID(i))
		}
	}
	return ids
}

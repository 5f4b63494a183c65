package schema

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

// Struct tag conventions:
//
//	ID      string    `jsonapi:"primary,articles"`
//	Title   string    `jsonapi:"attr,title"`
//	Posted  time.Time `jsonapi:"attr,posted-at,omitempty"`
//	Author  *Person   `jsonapi:"relation,author"`
//	Readers []*Person `jsonapi:"relation,readers"`
//
// An optional cast tag marks fields that need a storage-level conversion:
//
//	ID string `jsonapi:"primary,articles" cast:"ObjectID"`
const TagName = "jsonapi"

const (
	CastObjectID = "ObjectID"
	CastTime     = "Time"
	CastBoolean  = "Boolean"
	CastInt      = "Int"
)

var validCastTargets = []string{CastObjectID, CastTime, CastBoolean, CastInt}

type Attribute struct {
	Name       string
	FieldName  string
	FieldIndex int
	OmitEmpty  bool
	Cast       string
}

type Relationship struct {
	Name       string
	FieldName  string
	FieldIndex int
	ToMany     bool
	// TargetType is the resource type of the related struct, resolved from
	// its primary tag.
	TargetType string
}

// Schema is the parsed declarative configuration of a single resource type.
type Schema struct {
	ResourceType  string
	IDField       string
	IDFieldIndex  int
	IDCast        string
	Attributes    []Attribute
	Relationships []Relationship

	goType    reflect.Type
	attrIndex map[string]int
	relIndex  map[string]int
}

// Parse builds a Schema from a resource struct type. Pointer types are
// unwrapped first.
func Parse(t reflect.Type) (*Schema, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema: resource must be a struct, got %s", t.Kind())
	}

	s := &Schema{
		IDFieldIndex: -1,
		goType:       t,
		attrIndex:    map[string]int{},
		relIndex:     map[string]int{},
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get(TagName)
		if tag == "" {
			continue
		}
		parts := strings.Split(tag, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("schema: malformed %s tag %q on %s.%s", TagName, tag, t.Name(), field.Name)
		}

		castTag := field.Tag.Get("cast")
		if castTag != "" && !slices.Contains(validCastTargets, castTag) {
			return nil, fmt.Errorf("schema: invalid cast target %q, valid options: %s", castTag, strings.Join(validCastTargets, ", "))
		}

		switch parts[0] {
		case "primary":
			if s.IDFieldIndex >= 0 {
				return nil, fmt.Errorf("schema: duplicate primary field on %s", t.Name())
			}
			if field.Type.Kind() != reflect.String {
				return nil, fmt.Errorf("schema: primary field %s.%s must be a string", t.Name(), field.Name)
			}
			s.ResourceType = parts[1]
			s.IDField = field.Name
			s.IDFieldIndex = i
			s.IDCast = castTag

		case "attr":
			name := parts[1]
			if _, dup := s.attrIndex[name]; dup {
				return nil, fmt.Errorf("schema: duplicate attribute %q on %s", name, t.Name())
			}
			s.attrIndex[name] = len(s.Attributes)
			s.Attributes = append(s.Attributes, Attribute{
				Name:       name,
				FieldName:  field.Name,
				FieldIndex: i,
				OmitEmpty:  slices.Contains(parts[2:], "omitempty"),
				Cast:       castTag,
			})

		case "relation":
			name := parts[1]
			if _, dup := s.relIndex[name]; dup {
				return nil, fmt.Errorf("schema: duplicate relationship %q on %s", name, t.Name())
			}
			target, toMany, err := resolveRelationTarget(field.Type)
			if err != nil {
				return nil, fmt.Errorf("schema: relationship %q on %s: %w", name, t.Name(), err)
			}
			s.relIndex[name] = len(s.Relationships)
			s.Relationships = append(s.Relationships, Relationship{
				Name:       name,
				FieldName:  field.Name,
				FieldIndex: i,
				ToMany:     toMany,
				TargetType: target,
			})

		default:
			return nil, fmt.Errorf("schema: unknown %s tag kind %q on %s.%s", TagName, parts[0], t.Name(), field.Name)
		}
	}

	if s.IDFieldIndex < 0 {
		return nil, fmt.Errorf("schema: %s has no primary field", t.Name())
	}
	if s.ResourceType == "" {
		return nil, fmt.Errorf("schema: %s has an empty resource type", t.Name())
	}

	return s, nil
}

func resolveRelationTarget(t reflect.Type) (string, bool, error) {
	toMany := false
	if t.Kind() == reflect.Slice {
		toMany = true
		t = t.Elem()
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return "", false, fmt.Errorf("related field must be a struct, pointer or slice of structs, got %s", t.Kind())
	}

	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get(TagName)
		parts := strings.Split(tag, ",")
		if len(parts) >= 2 && parts[0] == "primary" {
			return parts[1], toMany, nil
		}
	}
	return "", false, fmt.Errorf("related type %s has no primary field", t.Name())
}

func (s *Schema) GoType() reflect.Type {
	return s.goType
}

// New returns a pointer to a fresh zero value of the resource struct.
func (s *Schema) New() interface{} {
	return reflect.New(s.goType).Interface()
}

func (s *Schema) Attribute(name string) (Attribute, bool) {
	i, ok := s.attrIndex[name]
	if !ok {
		return Attribute{}, false
	}
	return s.Attributes[i], true
}

func (s *Schema) Relationship(name string) (Relationship, bool) {
	i, ok := s.relIndex[name]
	if !ok {
		return Relationship{}, false
	}
	return s.Relationships[i], true
}

// FieldNames lists the public names of all attributes and relationships.
// Used to validate sparse fieldsets and sort parameters.
func (s *Schema) FieldNames() []string {
	out := make([]string, 0, len(s.Attributes)+len(s.Relationships))
	for _, a := range s.Attributes {
		out = append(out, a.Name)
	}
	for _, r := range s.Relationships {
		out = append(out, r.Name)
	}
	return out
}

func (s *Schema) IDOf(v interface{}) string {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	return rv.Field(s.IDFieldIndex).String()
}

func (s *Schema) SetID(v interface{}, id string) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr {
		return fmt.Errorf("schema: cannot set id on non-pointer %T", v)
	}
	rv.Elem().Field(s.IDFieldIndex).SetString(id)
	return nil
}

// Registry maps resource type names to parsed schemas. A resource type string
// uniquely names a resource struct.
type Registry struct {
	mu       sync.RWMutex
	byType   map[string]*Schema
	byGoType map[reflect.Type]*Schema
}

func NewRegistry() *Registry {
	return &Registry{
		byType:   map[string]*Schema{},
		byGoType: map[reflect.Type]*Schema{},
	}
}

// Register parses and stores the schema of the provided resource sample.
// Registering two different structs under one resource type is an error;
// re-registering the same struct is a no-op.
func (r *Registry) Register(sample interface{}) (*Schema, error) {
	s, err := Parse(reflect.TypeOf(sample))
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byType[s.ResourceType]; ok {
		if existing.goType != s.goType {
			return nil, fmt.Errorf("schema: resource type %q already registered for %s", s.ResourceType, existing.goType.Name())
		}
		return existing, nil
	}
	r.byType[s.ResourceType] = s
	r.byGoType[s.goType] = s
	return s, nil
}

func (r *Registry) ByType(resourceType string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byType[resourceType]
	return s, ok
}

func (r *Registry) ByValue(v interface{}) (*Schema, bool) {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byGoType[t]
	return s, ok
}

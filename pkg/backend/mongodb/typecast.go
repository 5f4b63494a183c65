package mongodb

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/calaveras-dev/jsonapi-kit/pkg/query"
	"github.com/calaveras-dev/jsonapi-kit/pkg/schema"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type castRule struct {
	// Storage is the bson field name the public name maps to.
	Storage string
	Cast    string
}

// rulesFor derives the public-name to storage-name mapping for a resource,
// with cast targets for values that are not stored as strings. The bson tag
// wins over the public attribute name when present.
type castRules map[string]castRule

func rulesFor(s *schema.Schema) castRules {
	rules := castRules{
		"id": {Storage: "_id", Cast: s.IDCast},
	}

	t := s.GoType()
	for _, attr := range s.Attributes {
		storage := attr.Name
		if bsonTag := t.Field(attr.FieldIndex).Tag.Get("bson"); bsonTag != "" {
			storage = strings.Split(bsonTag, ",")[0]
		}
		rules[attr.Name] = castRule{Storage: storage, Cast: attr.Cast}
	}

	return rules
}

func (rules castRules) storageName(field string) string {
	if rule, ok := rules[field]; ok {
		return rule.Storage
	}
	return field
}

// castValue converts the string value of a query condition to the type the
// store expects. "null" maps to nil for nullable cast targets.
func (rules castRules) castValue(field, raw string) (interface{}, error) {
	rule, ok := rules[field]
	if !ok || rule.Cast == "" {
		return raw, nil
	}

	if raw == "null" {
		return nil, nil
	}

	switch rule.Cast {
	case schema.CastObjectID:
		oid, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid object id %q for field %s", raw, field)
		}
		return oid, nil
	case schema.CastTime:
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid RFC3339 time %q for field %s", raw, field)
		}
		return t, nil
	case schema.CastBoolean:
		switch strings.ToLower(raw) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean %q for field %s, allowed values: true, false", raw, field)
	case schema.CastInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q for field %s", raw, field)
		}
		return n, nil
	default:
		return nil, errors.New("unknown cast target " + rule.Cast)
	}
}

// filterFor translates parsed conditions to a bson filter document.
func (rules castRules) filterFor(conditions []query.Condition) (bson.M, error) {
	if len(conditions) == 0 {
		return bson.M{}, nil
	}

	clauses := bson.A{}
	for _, cond := range conditions {
		storage := rules.storageName(cond.Field)

		switch cond.Op {
		case query.OpEq:
			value, err := rules.castValue(cond.Field, cond.Value)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, bson.M{storage: value})

		case query.OpNe, query.OpGt, query.OpGte, query.OpLt, query.OpLte:
			value, err := rules.castValue(cond.Field, cond.Value)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, bson.M{storage: bson.M{"$" + string(cond.Op): value}})

		case query.OpIn:
			values := bson.A{}
			for _, part := range strings.Split(cond.Value, ",") {
				value, err := rules.castValue(cond.Field, part)
				if err != nil {
					return nil, err
				}
				values = append(values, value)
			}
			clauses = append(clauses, bson.M{storage: bson.M{"$in": values}})

		case query.OpContains:
			clauses = append(clauses, bson.M{storage: bson.M{"$regex": regexp.QuoteMeta(cond.Value)}})

		default:
			return nil, fmt.Errorf("unsupported operator %q", cond.Op)
		}
	}

	return bson.M{"$and": clauses}, nil
}

func (rules castRules) sortFor(order []query.Sort) bson.D {
	sort := bson.D{}
	for _, key := range order {
		sort = append(sort, bson.E{
			Key:   rules.storageName(key.Field),
			Value: lo.Ternary(key.Desc, -1, 1),
		})
	}
	return sort
}

// idValue casts a path id to the stored id representation.
func (rules castRules) idValue(s *schema.Schema, id string) (interface{}, error) {
	if s.IDCast == schema.CastObjectID {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return nil, errors.New("invalid id")
		}
		return oid, nil
	}
	return id, nil
}

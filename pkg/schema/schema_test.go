package schema

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type author struct {
	ID   string `jsonapi:"primary,authors"`
	Name string `jsonapi:"attr,name"`
}

type post struct {
	ID        string    `jsonapi:"primary,posts" cast:"ObjectID"`
	Title     string    `jsonapi:"attr,title"`
	Posted    time.Time `jsonapi:"attr,posted-at,omitempty" cast:"Time"`
	Author    *author   `jsonapi:"relation,author"`
	Reviewers []author  `jsonapi:"relation,reviewers"`
	Internal  string
}

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("should extract primary, attributes and relationships", func(t *testing.T) {
		s, err := Parse(reflect.TypeOf(&post{}))
		assert.NoError(t, err)

		assert.Equal(t, "posts", s.ResourceType)
		assert.Equal(t, "ID", s.IDField)
		assert.Equal(t, CastObjectID, s.IDCast)

		assert.Len(t, s.Attributes, 2)
		title, ok := s.Attribute("title")
		assert.True(t, ok)
		assert.Equal(t, "Title", title.FieldName)
		assert.False(t, title.OmitEmpty)

		posted, ok := s.Attribute("posted-at")
		assert.True(t, ok)
		assert.True(t, posted.OmitEmpty)
		assert.Equal(t, CastTime, posted.Cast)
	})

	t.Run("should resolve relationship targets from the related primary tag", func(t *testing.T) {
		s, err := Parse(reflect.TypeOf(&post{}))
		assert.NoError(t, err)

		toOne, ok := s.Relationship("author")
		assert.True(t, ok)
		assert.False(t, toOne.ToMany)
		assert.Equal(t, "authors", toOne.TargetType)

		toMany, ok := s.Relationship("reviewers")
		assert.True(t, ok)
		assert.True(t, toMany.ToMany)
		assert.Equal(t, "authors", toMany.TargetType)
	})

	t.Run("should skip fields without a tag", func(t *testing.T) {
		s, err := Parse(reflect.TypeOf(&post{}))
		assert.NoError(t, err)

		_, ok := s.Attribute("Internal")
		assert.False(t, ok)
	})

	t.Run("should reject a struct without a primary field", func(t *testing.T) {
		_, err := Parse(reflect.TypeOf(new(struct {
			Name string `jsonapi:"attr,name"`
		})))
		assert.Error(t, err)
	})

	t.Run("should reject a non-string primary field", func(t *testing.T) {
		_, err := Parse(reflect.TypeOf(new(struct {
			ID int `jsonapi:"primary,things"`
		})))
		assert.Error(t, err)
	})

	t.Run("should reject duplicate attribute names", func(t *testing.T) {
		_, err := Parse(reflect.TypeOf(new(struct {
			ID string `jsonapi:"primary,things"`
			A  string `jsonapi:"attr,name"`
			B  string `jsonapi:"attr,name"`
		})))
		assert.Error(t, err)
	})

	t.Run("should reject invalid cast targets", func(t *testing.T) {
		_, err := Parse(reflect.TypeOf(new(struct {
			ID string `jsonapi:"primary,things" cast:"UUID"`
		})))
		assert.Error(t, err)
	})

	t.Run("should reject relationships to structs with no primary field", func(t *testing.T) {
		_, err := Parse(reflect.TypeOf(new(struct {
			ID  string `jsonapi:"primary,things"`
			Rel *struct {
				Name string
			} `jsonapi:"relation,rel"`
		})))
		assert.Error(t, err)
	})
}

func TestSchemaAccessors(t *testing.T) {
	t.Parallel()

	s, err := Parse(reflect.TypeOf(&post{}))
	assert.NoError(t, err)

	t.Run("should list public field names", func(t *testing.T) {
		assert.Equal(t, []string{"title", "posted-at", "author", "reviewers"}, s.FieldNames())
	})

	t.Run("should read and write the id through reflection", func(t *testing.T) {
		p := s.New().(*post)
		assert.NoError(t, s.SetID(p, "42"))
		assert.Equal(t, "42", s.IDOf(p))
		assert.Equal(t, "42", s.IDOf(*p))
	})

	t.Run("should refuse to set id on a non-pointer value", func(t *testing.T) {
		assert.Error(t, s.SetID(post{}, "42"))
	})
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	t.Run("should be idempotent for the same struct", func(t *testing.T) {
		r := NewRegistry()
		first, err := r.Register(&post{})
		assert.NoError(t, err)
		second, err := r.Register(&post{})
		assert.NoError(t, err)
		assert.Same(t, first, second)
	})

	t.Run("should reject a second struct under the same resource type", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.Register(&post{})
		assert.NoError(t, err)

		_, err = r.Register(new(struct {
			ID string `jsonapi:"primary,posts"`
		}))
		assert.Error(t, err)
	})

	t.Run("should look up schemas by type name and by value", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.Register(&post{})
		assert.NoError(t, err)

		byType, ok := r.ByType("posts")
		assert.True(t, ok)
		byValue, ok := r.ByValue(post{})
		assert.True(t, ok)
		assert.Same(t, byType, byValue)

		_, ok = r.ByType("missing")
		assert.False(t, ok)
	})
}

package jsonapikit

import (
	"context"
	"net/url"
	"testing"

	"github.com/calaveras-dev/jsonapi-kit/pkg/backend/memory"
	"github.com/calaveras-dev/jsonapi-kit/pkg/config"
	"github.com/calaveras-dev/jsonapi-kit/pkg/document"
	"github.com/calaveras-dev/jsonapi-kit/pkg/query"
	"github.com/calaveras-dev/jsonapi-kit/pkg/relationships"
	"github.com/stretchr/testify/assert"
)

type testPerson struct {
	ID   string `jsonapi:"primary,people"`
	Name string `jsonapi:"attr,name"`
}

type testComment struct {
	ID     string      `jsonapi:"primary,comments"`
	Body   string      `jsonapi:"attr,body"`
	Author *testPerson `jsonapi:"relation,author"`
}

type testArticle struct {
	ID       string         `jsonapi:"primary,articles"`
	Title    string         `jsonapi:"attr,title"`
	Views    int            `jsonapi:"attr,views"`
	Author   *testPerson    `jsonapi:"relation,author"`
	Comments []*testComment `jsonapi:"relation,comments"`
}

type fixture struct {
	registry *Registry
	articles *ViewSet
	people   *ViewSet
	comments *ViewSet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	people := memory.NewCollection().Seed(
		&testPerson{ID: "9", Name: "Dan Gebhardt"},
		&testPerson{ID: "2", Name: "Yehuda Katz"},
	)
	comments := memory.NewCollection().Seed(
		&testComment{ID: "5", Body: "First!", Author: &testPerson{ID: "2"}},
		&testComment{ID: "12", Body: "I like XML better", Author: &testPerson{ID: "9"}},
	)
	articles := memory.NewCollection().Seed(
		&testArticle{ID: "1", Title: "JSON:API paints my bikeshed!", Views: 100,
			Author:   &testPerson{ID: "9"},
			Comments: []*testComment{{ID: "5"}, {ID: "12"}},
		},
		&testArticle{ID: "2", Title: "Rails is Omakase", Views: 50},
		&testArticle{ID: "3", Title: "What is JSON:API?", Views: 200},
	)

	registry := NewRegistry(config.Default())
	f := &fixture{registry: registry}
	f.articles = registry.MustRegister(&testArticle{}, articles, ReadWrite)
	f.people = registry.MustRegister(&testPerson{}, people, ReadOnly)
	f.comments = registry.MustRegister(&testComment{}, comments, ReadWrite)
	return f
}

func parseQuery(t *testing.T, rawQuery string) *query.Query {
	t.Helper()
	values, err := url.ParseQuery(rawQuery)
	assert.NoError(t, err)
	q, err := query.Parse(values, 10, 100)
	assert.NoError(t, err)
	return q
}

func TestList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("should return the collection with pagination meta and links", func(t *testing.T) {
		f := newFixture(t)
		doc, err := f.articles.List(ctx, parseQuery(t, ""))
		assert.NoError(t, err)

		assert.Len(t, doc.Resources(), 3)
		assert.Equal(t, 3, doc.Meta["count"])
		assert.Equal(t, 1, doc.Meta["num_pages"])
		assert.Equal(t, false, doc.Meta["has_next"])
		assert.Contains(t, doc.Links["first"], "page[number]=1")
		assert.Nil(t, doc.Links["prev"])
	})

	t.Run("should window pages and link to neighbours", func(t *testing.T) {
		f := newFixture(t)
		doc, err := f.articles.List(ctx, parseQuery(t, "page[number]=2&page[size]=1&sort=id"))
		assert.NoError(t, err)

		assert.Len(t, doc.Resources(), 1)
		assert.Equal(t, "2", doc.Resources()[0].ID)
		assert.Equal(t, 3, doc.Meta["num_pages"])
		assert.Equal(t, true, doc.Meta["has_next"])
		assert.Equal(t, true, doc.Meta["has_previous"])
		assert.Contains(t, doc.Links["next"], "page[number]=3")
		assert.Contains(t, doc.Links["prev"], "page[number]=1")
	})

	t.Run("should filter and sort", func(t *testing.T) {
		f := newFixture(t)
		doc, err := f.articles.List(ctx, parseQuery(t, "filter[views][gte]=100&sort=-views"))
		assert.NoError(t, err)

		resources := doc.Resources()
		assert.Len(t, resources, 2)
		assert.Equal(t, "3", resources[0].ID)
		assert.Equal(t, 2, doc.Meta["count"])
	})

	t.Run("should reject undeclared filter fields", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.articles.List(ctx, parseQuery(t, "filter[secret]=x"))
		assert.Equal(t, 400, document.StatusOf(err))
	})

	t.Run("should run before list and after read hooks", func(t *testing.T) {
		f := newFixture(t)
		f.articles.Hooks().RegisterBeforeList(func(_ context.Context, q *query.Query) (*query.Query, error) {
			q.Filter = append(q.Filter, query.Condition{Field: "views", Op: query.OpGt, Value: "150"})
			return q, nil
		})
		f.articles.Hooks().RegisterAfterRead(func(_ context.Context, r interface{}) (interface{}, error) {
			r.(*testArticle).Title = "redacted"
			return r, nil
		})

		doc, err := f.articles.List(ctx, parseQuery(t, ""))
		assert.NoError(t, err)
		assert.Len(t, doc.Resources(), 1)
		assert.Equal(t, "redacted", doc.Resources()[0].Attributes["title"])
	})
}

func TestRetrieve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("should return the resource by id", func(t *testing.T) {
		f := newFixture(t)
		doc, err := f.articles.Retrieve(ctx, "1", parseQuery(t, ""))
		assert.NoError(t, err)

		res := doc.Data().(*document.Resource)
		assert.Equal(t, "1", res.ID)
		assert.Equal(t, "JSON:API paints my bikeshed!", res.Attributes["title"])
	})

	t.Run("should build a compound document for include paths", func(t *testing.T) {
		f := newFixture(t)
		doc, err := f.articles.Retrieve(ctx, "1", parseQuery(t, "include=author,comments"))
		assert.NoError(t, err)

		assert.Len(t, doc.Included, 3)

		byType := map[string]int{}
		for _, inc := range doc.Included {
			byType[inc.Type]++
		}
		assert.Equal(t, 1, byType["people"])
		assert.Equal(t, 2, byType["comments"])
	})

	t.Run("should fetch included resources in full from their collection", func(t *testing.T) {
		f := newFixture(t)
		doc, err := f.articles.Retrieve(ctx, "1", parseQuery(t, "include=comments"))
		assert.NoError(t, err)

		bodies := []interface{}{}
		for _, inc := range doc.Included {
			bodies = append(bodies, inc.Attributes["body"])
		}
		assert.Contains(t, bodies, "First!")
		assert.Contains(t, bodies, "I like XML better")
	})

	t.Run("should report 404 for a missing id", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.articles.Retrieve(ctx, "999", parseQuery(t, ""))
		assert.Equal(t, 404, document.StatusOf(err))
	})
}

func TestCreate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("should insert from a resource object body", func(t *testing.T) {
		f := newFixture(t)
		doc, err := f.articles.Create(ctx, []byte(`{
			"data": {
				"type": "articles",
				"attributes": {"title": "Fresh", "views": 1}
			}
		}`), parseQuery(t, ""))
		assert.NoError(t, err)

		res := doc.Data().(*document.Resource)
		assert.NotEmpty(t, res.ID)
		assert.Equal(t, "Fresh", res.Attributes["title"])

		_, err = f.articles.Retrieve(ctx, res.ID, parseQuery(t, ""))
		assert.NoError(t, err)
	})

	t.Run("should attach relationships referenced in the body", func(t *testing.T) {
		f := newFixture(t)
		doc, err := f.articles.Create(ctx, []byte(`{
			"data": {
				"type": "articles",
				"attributes": {"title": "Linked"},
				"relationships": {
					"author": {"data": {"type": "people", "id": "2"}},
					"comments": {"data": [{"type": "comments", "id": "5"}]}
				}
			}
		}`), parseQuery(t, ""))
		assert.NoError(t, err)

		res := doc.Data().(*document.Resource)
		stored, err := f.articles.Retrieve(ctx, res.ID, parseQuery(t, "include=author,comments"))
		assert.NoError(t, err)
		assert.Len(t, stored.Included, 2)
	})

	t.Run("should reject a duplicate client generated id", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.articles.Create(ctx, []byte(`{
			"data": {"type": "articles", "id": "1", "attributes": {"title": "Clone"}}
		}`), parseQuery(t, ""))
		assert.Equal(t, 409, document.StatusOf(err))
	})

	t.Run("should reject unknown relationship targets", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.articles.Create(ctx, []byte(`{
			"data": {
				"type": "articles",
				"attributes": {"title": "Broken"},
				"relationships": {"author": {"data": {"type": "people", "id": "404"}}}
			}
		}`), parseQuery(t, ""))
		assert.Equal(t, 400, document.StatusOf(err))
	})

	t.Run("should reject mismatched relationship identifier types", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.articles.Create(ctx, []byte(`{
			"data": {
				"type": "articles",
				"attributes": {"title": "Broken"},
				"relationships": {"author": {"data": {"type": "comments", "id": "5"}}}
			}
		}`), parseQuery(t, ""))
		assert.Equal(t, 400, document.StatusOf(err))
	})

	t.Run("should collect unknown attributes into the error document", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.articles.Create(ctx, []byte(`{
			"data": {"type": "articles", "attributes": {"bogus": 1}}
		}`), parseQuery(t, ""))

		var list document.ErrorList
		assert.ErrorAs(t, err, &list)
		assert.Equal(t, "data/attributes/bogus", list[0].Source.Pointer)
	})
}

func TestPartialUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("should apply only the attributes present in the body", func(t *testing.T) {
		f := newFixture(t)
		doc, err := f.articles.PartialUpdate(ctx, "1", []byte(`{
			"data": {"type": "articles", "id": "1", "attributes": {"views": 101}}
		}`), parseQuery(t, ""))
		assert.NoError(t, err)

		res := doc.Data().(*document.Resource)
		assert.Equal(t, "JSON:API paints my bikeshed!", res.Attributes["title"])
		assert.Equal(t, 101, res.Attributes["views"])
	})

	t.Run("should replace relationships present in the body", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.articles.PartialUpdate(ctx, "1", []byte(`{
			"data": {
				"type": "articles",
				"relationships": {"author": {"data": {"type": "people", "id": "2"}}}
			}
		}`), parseQuery(t, ""))
		assert.NoError(t, err)

		doc, err := f.articles.RelationshipRetrieve(ctx, "1", "author", parseQuery(t, ""))
		assert.NoError(t, err)
		linkage := doc.Data().(*document.Linkage)
		assert.Equal(t, "2", linkage.One.ID)
	})

	t.Run("should reject a body id that does not match the endpoint", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.articles.PartialUpdate(ctx, "1", []byte(`{
			"data": {"type": "articles", "id": "2", "attributes": {"title": "X"}}
		}`), parseQuery(t, ""))
		assert.Equal(t, 409, document.StatusOf(err))
	})

	t.Run("should report 404 for a missing id", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.articles.PartialUpdate(ctx, "999", []byte(`{
			"data": {"type": "articles", "attributes": {"title": "X"}}
		}`), parseQuery(t, ""))
		assert.Equal(t, 404, document.StatusOf(err))
	})
}

func TestDestroy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("should delete the resource", func(t *testing.T) {
		f := newFixture(t)
		assert.NoError(t, f.articles.Destroy(ctx, "2"))

		_, err := f.articles.Retrieve(ctx, "2", parseQuery(t, ""))
		assert.Equal(t, 404, document.StatusOf(err))
	})

	t.Run("should report 404 for a missing id", func(t *testing.T) {
		f := newFixture(t)
		err := f.articles.Destroy(ctx, "999")
		assert.Equal(t, 404, document.StatusOf(err))
	})

	t.Run("should run before and after delete hooks", func(t *testing.T) {
		f := newFixture(t)
		calls := []string{}
		f.articles.Hooks().RegisterBeforeDelete(func(_ context.Context, r interface{}) error {
			calls = append(calls, "before:"+r.(*testArticle).ID)
			return nil
		})
		f.articles.Hooks().RegisterAfterDelete(func(_ context.Context, r interface{}) error {
			calls = append(calls, "after:"+r.(*testArticle).ID)
			return nil
		})

		assert.NoError(t, f.articles.Destroy(ctx, "3"))
		assert.Equal(t, []string{"before:3", "after:3"}, calls)
	})
}

func TestRelationshipEndpoints(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("should return to-one linkage", func(t *testing.T) {
		f := newFixture(t)
		doc, err := f.articles.RelationshipRetrieve(ctx, "1", "author", parseQuery(t, ""))
		assert.NoError(t, err)

		linkage := doc.Data().(*document.Linkage)
		assert.Equal(t, "people", linkage.One.Type)
		assert.Equal(t, "9", linkage.One.ID)
	})

	t.Run("should return null linkage for an empty to-one", func(t *testing.T) {
		f := newFixture(t)
		doc, err := f.articles.RelationshipRetrieve(ctx, "2", "author", parseQuery(t, ""))
		assert.NoError(t, err)

		linkage := doc.Data().(*document.Linkage)
		assert.Nil(t, linkage.One)
	})

	t.Run("should return to-many linkage with pagination meta", func(t *testing.T) {
		f := newFixture(t)
		doc, err := f.articles.RelationshipRetrieve(ctx, "1", "comments", parseQuery(t, ""))
		assert.NoError(t, err)

		linkage := doc.Data().(*document.Linkage)
		assert.Len(t, linkage.Items, 2)
		assert.Equal(t, 2, doc.Meta["count"])
		assert.Equal(t, false, doc.Meta["has_next"])
	})

	t.Run("should return full related resources", func(t *testing.T) {
		f := newFixture(t)
		doc, err := f.articles.RelatedRetrieve(ctx, "1", "comments", parseQuery(t, ""))
		assert.NoError(t, err)

		resources := doc.Resources()
		assert.Len(t, resources, 2)
		assert.Equal(t, "First!", resources[0].Attributes["body"])
	})

	t.Run("should return a single related resource for to-one", func(t *testing.T) {
		f := newFixture(t)
		doc, err := f.articles.RelatedRetrieve(ctx, "1", "author", parseQuery(t, ""))
		assert.NoError(t, err)

		res := doc.Data().(*document.Resource)
		assert.Equal(t, "Dan Gebhardt", res.Attributes["name"])
	})

	t.Run("should reject undeclared relationship names", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.articles.RelationshipRetrieve(ctx, "1", "bogus", parseQuery(t, ""))
		assert.Equal(t, 400, document.StatusOf(err))
	})
}

func TestRelationshipWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("should add members to a to-many relationship", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.comments.Create(ctx, []byte(`{
			"data": {"type": "comments", "id": "13", "attributes": {"body": "New"}}
		}`), parseQuery(t, ""))
		assert.NoError(t, err)

		err = f.articles.RelationshipCreate(ctx, "1", "comments", []byte(`{
			"data": [{"type": "comments", "id": "13"}]
		}`))
		assert.NoError(t, err)

		doc, err := f.articles.RelationshipRetrieve(ctx, "1", "comments", parseQuery(t, ""))
		assert.NoError(t, err)
		assert.Len(t, doc.Data().(*document.Linkage).Items, 3)
	})

	t.Run("should replace a to-one relationship with patch", func(t *testing.T) {
		f := newFixture(t)
		err := f.articles.RelationshipUpdate(ctx, "1", "author", []byte(`{
			"data": {"type": "people", "id": "2"}
		}`))
		assert.NoError(t, err)

		doc, err := f.articles.RelationshipRetrieve(ctx, "1", "author", parseQuery(t, ""))
		assert.NoError(t, err)
		assert.Equal(t, "2", doc.Data().(*document.Linkage).One.ID)
	})

	t.Run("should clear a to-one relationship with null", func(t *testing.T) {
		f := newFixture(t)
		err := f.articles.RelationshipUpdate(ctx, "1", "author", []byte(`{"data": null}`))
		assert.NoError(t, err)

		doc, err := f.articles.RelationshipRetrieve(ctx, "1", "author", parseQuery(t, ""))
		assert.NoError(t, err)
		assert.Nil(t, doc.Data().(*document.Linkage).One)
	})

	t.Run("should remove members from a to-many relationship", func(t *testing.T) {
		f := newFixture(t)
		err := f.articles.RelationshipDestroy(ctx, "1", "comments", []byte(`{
			"data": [{"type": "comments", "id": "5"}]
		}`))
		assert.NoError(t, err)

		doc, err := f.articles.RelationshipRetrieve(ctx, "1", "comments", parseQuery(t, ""))
		assert.NoError(t, err)

		items := doc.Data().(*document.Linkage).Items
		assert.Len(t, items, 1)
		assert.Equal(t, "12", items[0].ID)
	})

	t.Run("should reject post and delete on a to-one relationship", func(t *testing.T) {
		f := newFixture(t)
		err := f.articles.RelationshipCreate(ctx, "1", "author", []byte(`{
			"data": [{"type": "people", "id": "2"}]
		}`))
		assert.Equal(t, 405, document.StatusOf(err))

		err = f.articles.RelationshipDestroy(ctx, "1", "author", []byte(`{
			"data": [{"type": "people", "id": "9"}]
		}`))
		assert.Equal(t, 405, document.StatusOf(err))
	})

	t.Run("should reject writes to read-only relationships", func(t *testing.T) {
		f := newFixture(t)
		rel, ok := f.articles.Schema().Relationship("comments")
		assert.True(t, ok)
		target, ok := f.registry.Schemas().ByType("comments")
		assert.True(t, ok)

		f.articles.HandleRelationship(
			relationships.NewFieldHandler(f.articles.Schema(), rel, target).WithReadOnly(),
		)

		err := f.articles.RelationshipUpdate(ctx, "1", "comments", []byte(`{"data": []}`))
		assert.Equal(t, 403, document.StatusOf(err))
	})
}

// Package router mounts registered viewsets onto a net/http ServeMux. Route
// shapes follow the JSON:API recommendations: a collection endpoint, a
// resource endpoint, one relationship endpoint per declared relationship and
// a related-resource endpoint next to it.
package router

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	jsonapikit "github.com/calaveras-dev/jsonapi-kit"
	"github.com/calaveras-dev/jsonapi-kit/pkg/document"
	"github.com/calaveras-dev/jsonapi-kit/pkg/query"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Router struct {
	registry *jsonapikit.Registry
	log      zerolog.Logger
}

func NewRouter(registry *jsonapikit.Registry) *Router {
	return &Router{registry: registry, log: log.Logger}
}

func (rt *Router) WithLogger(logger zerolog.Logger) *Router {
	rt.log = logger
	return rt
}

// AttachMux registers routes for every viewset under the given namespace.
// Write routes are only mounted for viewsets registered in read-write mode.
func (rt *Router) AttachMux(ns string, mux *http.ServeMux) *Router {
	// Paths outside every registered resource still answer with a JSON:API
	// error document rather than the mux default plain-text 404.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		rt.renderError(w, r, document.NewError(http.StatusNotFound,
			fmt.Sprintf("no resource registered at %q", r.URL.Path)))
	})

	for _, resourceType := range rt.registry.ResourceTypes() {
		vs, _ := rt.registry.ViewSet(resourceType)

		base := "/" + strings.Trim(resourceType, "/")
		if ns != "" {
			base = fmt.Sprintf("/%s%s", strings.Trim(ns, "/"), base)
		}

		mux.HandleFunc("GET "+base, rt.makeListHandler(vs))
		mux.HandleFunc("GET "+base+"/{id}", rt.makeRetrieveHandler(vs))
		mux.HandleFunc("GET "+base+"/{id}/relationships/{relation}", rt.makeRelationshipRetrieveHandler(vs))
		mux.HandleFunc("GET "+base+"/{id}/{relation}", rt.makeRelatedHandler(vs))

		if vs.Mode() == jsonapikit.ReadWrite {
			mux.HandleFunc("POST "+base, rt.makeCreateHandler(vs))
			mux.HandleFunc("PATCH "+base+"/{id}", rt.makeUpdateHandler(vs))
			mux.HandleFunc("DELETE "+base+"/{id}", rt.makeDestroyHandler(vs))
			mux.HandleFunc("POST "+base+"/{id}/relationships/{relation}", rt.makeRelationshipWriteHandler(vs.RelationshipCreate))
			mux.HandleFunc("PATCH "+base+"/{id}/relationships/{relation}", rt.makeRelationshipWriteHandler(vs.RelationshipUpdate))
			mux.HandleFunc("DELETE "+base+"/{id}/relationships/{relation}", rt.makeRelationshipWriteHandler(vs.RelationshipDestroy))
		}

		rt.log.Trace().Str("resource", resourceType).Str("base", base).Msg("routes attached")
	}
	return rt
}

func (rt *Router) makeListHandler(vs *jsonapikit.ViewSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rt.negotiate(w, r) {
			return
		}
		q, err := rt.parseQuery(r)
		if err != nil {
			rt.renderError(w, r, err)
			return
		}
		doc, err := vs.List(r.Context(), q)
		if err != nil {
			rt.renderError(w, r, err)
			return
		}
		rt.renderDocument(w, r, http.StatusOK, doc)
	}
}

func (rt *Router) makeRetrieveHandler(vs *jsonapikit.ViewSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rt.negotiate(w, r) {
			return
		}
		q, err := rt.parseQuery(r)
		if err != nil {
			rt.renderError(w, r, err)
			return
		}
		doc, err := vs.Retrieve(r.Context(), r.PathValue("id"), q)
		if err != nil {
			rt.renderError(w, r, err)
			return
		}
		rt.renderDocument(w, r, http.StatusOK, doc)
	}
}

func (rt *Router) makeCreateHandler(vs *jsonapikit.ViewSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rt.negotiate(w, r) {
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			rt.renderError(w, r, err)
			return
		}
		q, err := rt.parseQuery(r)
		if err != nil {
			rt.renderError(w, r, err)
			return
		}
		doc, err := vs.Create(r.Context(), body, q)
		if err != nil {
			rt.renderError(w, r, err)
			return
		}
		rt.renderDocument(w, r, http.StatusCreated, doc)
	}
}

func (rt *Router) makeUpdateHandler(vs *jsonapikit.ViewSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rt.negotiate(w, r) {
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			rt.renderError(w, r, err)
			return
		}
		q, err := rt.parseQuery(r)
		if err != nil {
			rt.renderError(w, r, err)
			return
		}
		doc, err := vs.PartialUpdate(r.Context(), r.PathValue("id"), body, q)
		if err != nil {
			rt.renderError(w, r, err)
			return
		}
		rt.renderDocument(w, r, http.StatusOK, doc)
	}
}

func (rt *Router) makeDestroyHandler(vs *jsonapikit.ViewSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rt.negotiate(w, r) {
			return
		}
		if err := vs.Destroy(r.Context(), r.PathValue("id")); err != nil {
			rt.renderError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (rt *Router) makeRelationshipRetrieveHandler(vs *jsonapikit.ViewSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rt.negotiate(w, r) {
			return
		}
		q, err := rt.parseQuery(r)
		if err != nil {
			rt.renderError(w, r, err)
			return
		}
		doc, err := vs.RelationshipRetrieve(r.Context(), r.PathValue("id"), r.PathValue("relation"), q)
		if err != nil {
			rt.renderError(w, r, err)
			return
		}
		rt.renderDocument(w, r, http.StatusOK, doc)
	}
}

func (rt *Router) makeRelatedHandler(vs *jsonapikit.ViewSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rt.negotiate(w, r) {
			return
		}
		q, err := rt.parseQuery(r)
		if err != nil {
			rt.renderError(w, r, err)
			return
		}
		doc, err := vs.RelatedRetrieve(r.Context(), r.PathValue("id"), r.PathValue("relation"), q)
		if err != nil {
			rt.renderError(w, r, err)
			return
		}
		rt.renderDocument(w, r, http.StatusOK, doc)
	}
}

func (rt *Router) makeRelationshipWriteHandler(op func(ctx context.Context, id, relation string, body []byte) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rt.negotiate(w, r) {
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			rt.renderError(w, r, err)
			return
		}
		if err := op(r.Context(), r.PathValue("id"), r.PathValue("relation"), body); err != nil {
			rt.renderError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// negotiate enforces the JSON:API media type. Bodied requests must carry it
// as Content-Type without parameters, and clients must accept it.
func (rt *Router) negotiate(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodPost || r.Method == http.MethodPatch ||
		(r.Method == http.MethodDelete && r.ContentLength > 0) {
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != document.MediaType || len(params) > 0 {
			rt.renderError(w, r, document.NewError(http.StatusUnsupportedMediaType,
				fmt.Sprintf("requests must use the %q media type without parameters", document.MediaType)))
			return false
		}
	}

	accept := r.Header.Get("Accept")
	if accept == "" || accept == "*/*" {
		return true
	}
	for _, candidate := range strings.Split(accept, ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(candidate))
		if err != nil {
			continue
		}
		delete(params, "q")
		if (mediaType == document.MediaType || mediaType == "application/*") && len(params) == 0 {
			return true
		}
	}
	rt.renderError(w, r, document.NewError(http.StatusNotAcceptable,
		fmt.Sprintf("responses are only available as %q", document.MediaType)))
	return false
}

func (rt *Router) parseQuery(r *http.Request) (*query.Query, error) {
	settings := rt.registry.Settings()
	return query.Parse(r.URL.Query(), settings.DefaultPageSize, settings.MaxPageSize)
}

func (rt *Router) renderDocument(w http.ResponseWriter, r *http.Request, status int, doc *document.Document) {
	payload, err := doc.Encode()
	if err != nil {
		rt.renderError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", document.MediaType)
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		rt.log.Error().Err(err).Str("path", r.URL.Path).Msg("response write failed")
	}
}

func (rt *Router) renderError(w http.ResponseWriter, r *http.Request, err error) {
	errs := document.AsErrors(err)
	status := document.StatusOf(errs)
	if status >= http.StatusInternalServerError {
		rt.log.Error().Err(err).Str("path", r.URL.Path).Str("method", r.Method).Msg("request failed")
	} else {
		rt.log.Trace().Err(err).Str("path", r.URL.Path).Str("method", r.Method).Int("status", status).Msg("request rejected")
	}

	doc := document.NewErrorDocument(errs...)
	payload, encodeErr := doc.Encode()
	if encodeErr != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", document.MediaType)
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		rt.log.Error().Err(err).Str("path", r.URL.Path).Msg("response write failed")
	}
}

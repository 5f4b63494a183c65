/*
Package jsonapikit is a toolkit for serving JSON:API resources over pluggable
storage backends. It maps tagged Go structs onto JSON:API resource objects
with minimal ceremony and strong conventions.

The main building blocks are:
	* Registry - wires resource types, collections and viewsets together
	* ViewSet - per-resource CRUD and relationship operations
	* backend.Collection - the storage interface, with MongoDB and in-memory implementations
	* router - mounts viewsets onto an http.ServeMux with content negotiation

This package uses zerolog for tracing. See zerolog documentation for more
configuration options. By default the global zerolog instance is used. You can
overwrite it on Registry.
*/

package jsonapikit

// Package httpapi exposes the import service over HTTP with a gorilla/mux
// router. Every error is written as a go-errors envelope.
package httpapi

package vellum

import "fmt"

// DocumentID identifies a document by its owning collection and its key.
// It is the database-specific value type the custom type handler knows how to
// encode/decode inside the generic serialization format.
type DocumentID struct {
	// CollectionID is the internal handle of the owning collection.
	CollectionID UUID
	// Key is the document key, unique within the collection.
	Key string
}

// String renders the ID in "collection/key" form using the raw collection handle.
// Use a name resolver to render the collection's name instead.
func (d DocumentID) String() string {
	return fmt.Sprintf("%s/%s", d.CollectionID.String(), d.Key)
}

// IsZero reports whether the document ID carries no data.
func (d DocumentID) IsZero() bool {
	return d.CollectionID.IsNil() && d.Key == ""
}

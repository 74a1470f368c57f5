package encoding

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/vellumdb/vellum"
)

// documentIDTag marks a custom document ID value inside the generic encoding format.
const documentIDTag byte = 0xF0

// NameLookup resolves a collection's internal handle back to its name.
// The database package's NameResolver satisfies this.
type NameLookup interface {
	CollectionNameByID(ctx context.Context, id vellum.UUID) (string, error)
}

// CustomTypeHandler encodes/decodes Vellum-specific value types (document IDs)
// embedded in the generic serialization format. A handler is expensive to build,
// so transaction contexts construct it once and reuse it for their lifetime.
type CustomTypeHandler interface {
	// Marshal encodes a document ID to its tagged binary form.
	Marshal(id vellum.DocumentID, buffer []byte) ([]byte, error)
	// Unmarshal decodes the tagged binary form back into a document ID.
	Unmarshal(data []byte, target *vellum.DocumentID) error
	// Render formats a document ID as "collection-name/key", resolving the
	// collection handle through the bound name lookup.
	Render(ctx context.Context, id vellum.DocumentID) (string, error)
}

type documentIDHandler struct {
	lookup NameLookup
}

// NewCustomTypeHandler instantiates a document ID handler bound to the given name lookup.
func NewCustomTypeHandler(lookup NameLookup) CustomTypeHandler {
	return &documentIDHandler{
		lookup: lookup,
	}
}

// Marshal encodes to: tag byte, 16 bytes collection UUID, 2 bytes key length, key bytes.
func (h documentIDHandler) Marshal(id vellum.DocumentID, buffer []byte) ([]byte, error) {
	if len(id.Key) > 0xFFFF {
		return nil, fmt.Errorf("document key too long (%d bytes)", len(id.Key))
	}
	w := bytes.NewBuffer(buffer)
	w.WriteByte(documentIDTag)
	w.Write(id.CollectionID[:])

	var dummy2 [2]byte
	binary.LittleEndian.PutUint16(dummy2[:], uint16(len(id.Key)))
	w.Write(dummy2[:])
	w.WriteString(id.Key)
	return w.Bytes(), nil
}

func (h documentIDHandler) Unmarshal(data []byte, target *vellum.DocumentID) error {
	r := bytes.NewBuffer(data)
	tag, err := r.ReadByte()
	if err != nil {
		return err
	}
	if tag != documentIDTag {
		return fmt.Errorf("not a document ID value, tag: %x", tag)
	}
	u, err := uuid.FromBytes(r.Next(16))
	if err != nil {
		return err
	}
	target.CollectionID = vellum.UUID(u)

	lenBytes := r.Next(2)
	if len(lenBytes) < 2 {
		return fmt.Errorf("truncated document ID value")
	}
	keyLen := int(binary.LittleEndian.Uint16(lenBytes))
	key := r.Next(keyLen)
	if len(key) < keyLen {
		return fmt.Errorf("truncated document key, want %d bytes got %d", keyLen, len(key))
	}
	target.Key = string(key)
	return nil
}

func (h documentIDHandler) Render(ctx context.Context, id vellum.DocumentID) (string, error) {
	name, err := h.lookup.CollectionNameByID(ctx, id.CollectionID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s", name, id.Key), nil
}

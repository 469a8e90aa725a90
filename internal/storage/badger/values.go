package badger

import (
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"

	"github.com/dshills/projectsearch/internal/storage"
)

// projectValue is the stored form of a project row
type projectValue struct {
	Title       string
	Budget      float64
	Description string
	OwnerID     int64
	CreatedAt   int64 // UnixNano, UTC
	UpdatedAt   int64
}

// embeddingValue is the stored form of an embedding. The vector keeps the
// little-endian float32 encoding used by the SQL backend.
type embeddingValue struct {
	Vector    []byte
	Dimension int64
	Provider  string
	Model     string
	CreatedAt int64
}

var (
	projectMUS   = projectSer{}
	embeddingMUS = embeddingSer{}
)

type projectSer struct{}

func (s projectSer) Marshal(v projectValue, bs []byte) (n int) {
	n = ord.String.Marshal(v.Title, bs)
	n += raw.Float64.Marshal(v.Budget, bs[n:])
	n += ord.String.Marshal(v.Description, bs[n:])
	n += varint.Int64.Marshal(v.OwnerID, bs[n:])
	n += varint.Int64.Marshal(v.CreatedAt, bs[n:])
	return n + varint.Int64.Marshal(v.UpdatedAt, bs[n:])
}

func (s projectSer) Unmarshal(bs []byte) (v projectValue, n int, err error) {
	var n1 int
	if v.Title, n, err = ord.String.Unmarshal(bs); err != nil {
		return
	}
	if v.Budget, n1, err = raw.Float64.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Description, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.OwnerID, n1, err = varint.Int64.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.CreatedAt, n1, err = varint.Int64.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	v.UpdatedAt, n1, err = varint.Int64.Unmarshal(bs[n:])
	n += n1
	return
}

func (s projectSer) Size(v projectValue) (size int) {
	size = ord.String.Size(v.Title)
	size += raw.Float64.Size(v.Budget)
	size += ord.String.Size(v.Description)
	size += varint.Int64.Size(v.OwnerID)
	size += varint.Int64.Size(v.CreatedAt)
	return size + varint.Int64.Size(v.UpdatedAt)
}

type embeddingSer struct{}

func (s embeddingSer) Marshal(v embeddingValue, bs []byte) (n int) {
	n = ord.ByteSlice.Marshal(v.Vector, bs)
	n += varint.Int64.Marshal(v.Dimension, bs[n:])
	n += ord.String.Marshal(v.Provider, bs[n:])
	n += ord.String.Marshal(v.Model, bs[n:])
	return n + varint.Int64.Marshal(v.CreatedAt, bs[n:])
}

func (s embeddingSer) Unmarshal(bs []byte) (v embeddingValue, n int, err error) {
	var n1 int
	if v.Vector, n, err = ord.ByteSlice.Unmarshal(bs); err != nil {
		return
	}
	if v.Dimension, n1, err = varint.Int64.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Provider, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Model, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	v.CreatedAt, n1, err = varint.Int64.Unmarshal(bs[n:])
	n += n1
	return
}

func (s embeddingSer) Size(v embeddingValue) (size int) {
	size = ord.ByteSlice.Size(v.Vector)
	size += varint.Int64.Size(v.Dimension)
	size += ord.String.Size(v.Provider)
	size += ord.String.Size(v.Model)
	return size + varint.Int64.Size(v.CreatedAt)
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func marshalProject(rec *storage.ProjectRecord) ([]byte, error) {
	v := projectValue{
		Title:       rec.Title,
		Budget:      rec.Budget,
		Description: rec.Description,
		OwnerID:     rec.OwnerID,
		CreatedAt:   toUnixNano(rec.CreatedAt),
		UpdatedAt:   toUnixNano(rec.UpdatedAt),
	}
	buf := make([]byte, projectMUS.Size(v))
	projectMUS.Marshal(v, buf)
	return buf, nil
}

func unmarshalProject(id int64, data []byte) (*storage.ProjectRecord, error) {
	v, _, err := projectMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &storage.ProjectRecord{
		ID:          id,
		Title:       v.Title,
		Budget:      v.Budget,
		Description: v.Description,
		OwnerID:     v.OwnerID,
		CreatedAt:   fromUnixNano(v.CreatedAt),
		UpdatedAt:   fromUnixNano(v.UpdatedAt),
	}, nil
}

func marshalEmbedding(emb *storage.Embedding) ([]byte, error) {
	v := embeddingValue{
		Vector:    storage.SerializeVector(emb.Vector),
		Dimension: int64(emb.Dimension),
		Provider:  emb.Provider,
		Model:     emb.Model,
		CreatedAt: toUnixNano(emb.CreatedAt),
	}
	buf := make([]byte, embeddingMUS.Size(v))
	embeddingMUS.Marshal(v, buf)
	return buf, nil
}

func unmarshalEmbedding(projectID int64, data []byte) (*storage.Embedding, error) {
	v, _, err := embeddingMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	vector, err := storage.DeserializeVector(v.Vector)
	if err != nil {
		return nil, err
	}
	return &storage.Embedding{
		ProjectID: projectID,
		Vector:    vector,
		Dimension: int(v.Dimension),
		Provider:  v.Provider,
		Model:     v.Model,
		CreatedAt: fromUnixNano(v.CreatedAt),
	}, nil
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"
)

// storedKey is one top-level key of the document.
type storedKey struct {
	Data      []byte    `datastore:"Data,noindex"`
	UpdatedAt time.Time `datastore:"UpdatedAt"`
}

// DatastoreBackend implements Backend and keeps one entity per top-level key
// in a Google Cloud Platform Datastore kind.
type DatastoreBackend struct {
	ds   *datastore.Client
	kind string
	now  func() time.Time
}

// NewDatastoreBackend constructs a new *DatastoreBackend. An empty kind
// defaults to "GhrelayConfig".
func NewDatastoreBackend(ds *datastore.Client, kind string) *DatastoreBackend {
	if kind == "" {
		kind = "GhrelayConfig"
	}
	return &DatastoreBackend{
		ds:   ds,
		kind: kind,
		now:  time.Now,
	}
}

func (b *DatastoreBackend) Load(ctx context.Context) (Document, error) {
	doc := Document{}
	it := b.ds.Run(ctx, datastore.NewQuery(b.kind))
	for {
		var e storedKey
		key, err := it.Next(&e)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("querying %s: %w", b.kind, err)
		}
		doc[key.Name] = json.RawMessage(e.Data)
	}

	if len(doc) == 0 {
		return nil, ErrNotFound
	}
	return doc, nil
}

// Save puts every key of doc and deletes the entities of keys doc no longer
// has.
func (b *DatastoreBackend) Save(ctx context.Context, doc Document) error {
	now := b.now()
	keys := make([]*datastore.Key, 0, len(doc))
	entities := make([]*storedKey, 0, len(doc))
	for name, raw := range doc {
		keys = append(keys, b.key(name))
		entities = append(entities, &storedKey{Data: raw, UpdatedAt: now})
	}
	if len(keys) > 0 {
		if _, err := b.ds.PutMulti(ctx, keys, entities); err != nil {
			return fmt.Errorf("putting %d keys: %w", len(keys), err)
		}
	}

	existing, err := b.ds.GetAll(ctx, datastore.NewQuery(b.kind).KeysOnly(), nil)
	if err != nil {
		return fmt.Errorf("listing %s keys: %w", b.kind, err)
	}
	var stale []*datastore.Key
	for _, k := range existing {
		if _, ok := doc[k.Name]; !ok {
			stale = append(stale, k)
		}
	}
	if len(stale) > 0 {
		if err := b.ds.DeleteMulti(ctx, stale); err != nil {
			return fmt.Errorf("deleting %d stale keys: %w", len(stale), err)
		}
	}
	return nil
}

func (b *DatastoreBackend) key(name string) *datastore.Key {
	return datastore.NameKey(b.kind, name, nil)
}

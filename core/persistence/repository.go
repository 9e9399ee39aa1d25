// Package persistence provides the generic, soft-delete-aware repository
// shared by every collection. It offers CRUD, bulk upsert, atomic updates,
// and cross-collection cloning over the generic entity shape, and emits
// lifecycle events for observability.
package persistence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/asaidimu/go-events"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tgathuku/go-hifadhi/core/entity"
)

// Repository performs persistence operations for a single named collection.
// Every read excludes soft-deleted documents unless the deleted-specific path
// is used. Documents are never physically removed by normal operations;
// SoftDelete is the only deletion path.
type Repository struct {
	name       string
	collection *mongo.Collection
	logger     *zap.Logger
	bus        *events.TypedEventBus[RepositoryEvent]
	subs       *subscriptionSet
}

// NewRepository creates a repository bound to a live collection handle.
// A nil logger is replaced with a no-op.
func NewRepository(name string, collection *mongo.Collection, logger *zap.Logger) (*Repository, error) {
	if collection == nil {
		return nil, fmt.Errorf("repository for collection '%s' requires a live collection handle", name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	bus, err := events.NewTypedEventBus[RepositoryEvent](events.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("could not initialize event bus: %w", err)
	}

	return &Repository{
		name:       name,
		collection: collection,
		logger:     logger,
		bus:        bus,
		subs:       newSubscriptionSet(bus),
	}, nil
}

// Name returns the collection name this repository is bound to.
func (r *Repository) Name() string { return r.name }

// ValidateID parses a store identity from its hex form.
func (r *Repository) ValidateID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("invalid id '%s' for collection '%s': %w", id, r.name, err)
	}
	return oid, nil
}

// withSoftDeleteFilter decorates a read filter so soft-deleted documents are
// excluded. The input filter is not mutated.
func withSoftDeleteFilter(filter bson.M) bson.M {
	decorated := make(bson.M, len(filter)+1)
	for k, v := range filter {
		decorated[k] = v
	}
	decorated["is_deleted"] = false
	return decorated
}

// withDeletedFilter is the one decoration that targets soft-deleted documents.
func withDeletedFilter(filter bson.M) bson.M {
	decorated := make(bson.M, len(filter)+1)
	for k, v := range filter {
		decorated[k] = v
	}
	decorated["is_deleted"] = true
	return decorated
}

// entityToDoc flattens an entity into its stored document form. The identity
// and creation timestamp are removed so the document is safe to use inside a
// $set.
func entityToDoc(e entity.Entity) (bson.M, error) {
	raw, err := bson.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity: %w", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode entity document: %w", err)
	}
	delete(doc, "_id")
	delete(doc, "created_at")
	return doc, nil
}

// sortSpec converts a sort map into a deterministic bson.D.
func sortSpec(sortFields map[string]int) bson.D {
	keys := make([]string, 0, len(sortFields))
	for k := range sortFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	spec := make(bson.D, 0, len(keys))
	for _, k := range keys {
		spec = append(spec, bson.E{Key: k, Value: sortFields[k]})
	}
	return spec
}

// Create inserts a new entity and returns it with its assigned identity.
// A rejected write or a write returning no identity fails with CreationError.
func (r *Repository) Create(ctx context.Context, e entity.Entity) (*entity.Entity, error) {
	result, err := r.withEvents("create", DocumentCreateStart, DocumentCreateSuccess, DocumentCreateFailed, e, func() (any, error) {
		now := time.Now().UTC()
		e.CreatedAt = now
		e.UpdatedAt = now
		e.IsDeleted = false

		res, err := r.collection.InsertOne(ctx, e)
		if err != nil {
			return nil, &CreationError{Collection: r.name, Err: err}
		}

		id, ok := res.InsertedID.(primitive.ObjectID)
		if !ok {
			return nil, &CreationError{Collection: r.name}
		}
		e.ID = id

		r.logger.Debug("document created",
			zap.String("collection", r.name),
			zap.String("id", id.Hex()))
		return &e, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*entity.Entity), nil
}

// InsertMany batch-inserts entities. With ordered=false, independent
// documents succeed even when a sibling fails; with ordered=true the batch
// stops at the first failure. Assigned identities are set on the returned
// entities that were inserted.
func (r *Repository) InsertMany(ctx context.Context, docs []entity.Entity, ordered bool) ([]entity.Entity, error) {
	if len(docs) == 0 {
		return []entity.Entity{}, nil
	}

	now := time.Now().UTC()
	payload := make([]any, len(docs))
	for i := range docs {
		docs[i].CreatedAt = now
		docs[i].UpdatedAt = now
		docs[i].IsDeleted = false
		payload[i] = docs[i]
	}

	res, err := r.collection.InsertMany(ctx, payload, options.InsertMany().SetOrdered(ordered))
	if res != nil {
		for i, id := range res.InsertedIDs {
			if i >= len(docs) {
				break
			}
			if oid, ok := id.(primitive.ObjectID); ok {
				docs[i].ID = oid
			}
		}
	}
	if err != nil {
		return docs, fmt.Errorf("insertMany into collection '%s' failed: %w", r.name, err)
	}
	return docs, nil
}

// bulkMatchFilter derives the upsert match filter for one document. Fields
// with an empty or absent value are dropped from the filter rather than
// matching null; a document with no usable key gets a filter that matches
// nothing, so it is always inserted.
func bulkMatchFilter(doc bson.M, matchFields []string) bson.M {
	filter := bson.M{}
	for _, field := range matchFields {
		v, ok := doc[field]
		if !ok || v == nil || v == "" {
			continue
		}
		filter[field] = v
	}
	if len(filter) == 0 {
		return nil
	}
	return filter
}

// BulkWrite performs a per-document upsert keyed on one field or a compound
// key. Two documents in the same batch resolving to the same key race at the
// store level; last applied wins. The result carries aggregate counts plus
// the affected documents re-fetched by the same keys.
func (r *Repository) BulkWrite(ctx context.Context, docs []entity.Entity, matchFields []string, ordered bool) (*BulkWriteResult, error) {
	if len(matchFields) == 0 {
		return nil, fmt.Errorf("bulkWrite on collection '%s' requires at least one match field", r.name)
	}

	result, err := r.withEvents("bulk_write", BulkWriteStart, BulkWriteSuccess, BulkWriteFailed, len(docs), func() (any, error) {
		now := time.Now().UTC()
		models := make([]mongo.WriteModel, 0, len(docs))
		keyFilters := make([]bson.M, 0, len(docs))

		for i := range docs {
			doc, err := entityToDoc(docs[i])
			if err != nil {
				return nil, err
			}
			doc["updated_at"] = now

			filter := bulkMatchFilter(doc, matchFields)
			if filter == nil {
				// No usable key: never match an existing document.
				filter = bson.M{"_id": primitive.NewObjectID()}
			} else {
				keyFilters = append(keyFilters, filter)
			}

			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(filter).
				SetUpdate(bson.M{
					"$set":         doc,
					"$setOnInsert": bson.M{"created_at": now},
				}).
				SetUpsert(true))
		}

		res, err := r.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(ordered))
		if err != nil {
			return nil, fmt.Errorf("bulkWrite on collection '%s' failed: %w", r.name, err)
		}

		out := &BulkWriteResult{
			Counts: BulkWriteCounts{
				MatchedCount:  res.MatchedCount,
				ModifiedCount: res.ModifiedCount,
				UpsertedCount: res.UpsertedCount,
				// Upsert-inserts count as insertions; see BulkWriteCounts.
				InsertedCount: res.InsertedCount + res.UpsertedCount,
				DeletedCount:  res.DeletedCount,
			},
		}

		if len(keyFilters) > 0 {
			entities, err := r.findList(ctx, withSoftDeleteFilter(bson.M{"$or": keyFilters}), FindOptions{})
			if err != nil {
				return nil, fmt.Errorf("bulkWrite re-fetch on collection '%s' failed: %w", r.name, err)
			}
			out.Entities = entities
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*BulkWriteResult), nil
}

// Upsert updates the non-deleted document with the entity's identity, or
// inserts when no identity is set. Upserting an identity that belongs to a
// soft-deleted document does not match it and will attempt to insert a
// conflicting identity; the store surfaces that as a duplicate-key error.
func (r *Repository) Upsert(ctx context.Context, e entity.Entity) (*entity.Entity, error) {
	if e.ID.IsZero() {
		return r.Create(ctx, e)
	}

	result, err := r.withEvents("upsert", DocumentUpdateStart, DocumentUpdateSuccess, DocumentUpdateFailed, e.ID.Hex(), func() (any, error) {
		doc, err := entityToDoc(e)
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		doc["updated_at"] = now

		filter := bson.M{"_id": e.ID, "is_deleted": false}
		update := bson.M{
			"$set":         doc,
			"$setOnInsert": bson.M{"created_at": now},
		}

		var updated entity.Entity
		err = r.collection.FindOneAndUpdate(ctx, filter, update,
			options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
		).Decode(&updated)
		if err != nil {
			return nil, fmt.Errorf("upsert into collection '%s' failed: %w", r.name, err)
		}
		return &updated, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*entity.Entity), nil
}

// findOneAndSet applies a field set to the non-deleted document with the
// given identity and returns the updated entity, or nil when nothing matched.
func (r *Repository) findOneAndSet(ctx context.Context, id primitive.ObjectID, set bson.M) (*entity.Entity, error) {
	var updated entity.Entity
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "is_deleted": false},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update on collection '%s' failed: %w", r.name, err)
	}
	return &updated, nil
}

// updateSet builds the $set document for an id-scoped update, stamping the
// update audit fields. The actor always wins over an "updated_by" entry in
// the caller's map.
func updateSet(update map[string]any, updatedBy string, now time.Time) bson.M {
	set := make(bson.M, len(update)+2)
	for k, v := range update {
		set[k] = v
	}
	set["updated_at"] = now
	set["updated_by"] = updatedBy
	return set
}

// UpdateByID applies a field set to the non-deleted document with the given
// id, attributing the change to updatedBy. Returns nil when the id does not
// exist or is soft-deleted.
func (r *Repository) UpdateByID(ctx context.Context, id, updatedBy string, update map[string]any) (*entity.Entity, error) {
	oid, err := r.ValidateID(id)
	if err != nil {
		return nil, err
	}

	result, err := r.withEvents("update", DocumentUpdateStart, DocumentUpdateSuccess, DocumentUpdateFailed, id, func() (any, error) {
		return r.findOneAndSet(ctx, oid, updateSet(update, updatedBy, time.Now().UTC()))
	})
	if err != nil {
		return nil, err
	}
	return result.(*entity.Entity), nil
}

// AtomicUpdate applies a partial field set as a single atomic operation.
// Keys may use dot paths to address nested fields. Returns nil when the id
// does not exist or is soft-deleted.
func (r *Repository) AtomicUpdate(ctx context.Context, id, updatedBy string, updates map[string]any) (*entity.Entity, error) {
	return r.UpdateByID(ctx, id, updatedBy, updates)
}

// SoftDelete marks a non-deleted document as logically deleted, setting the
// deletion audit fields and leaving every other field intact. Repeated calls
// on an already-deleted id are no-ops returning nil.
func (r *Repository) SoftDelete(ctx context.Context, id, deletedBy string) (*entity.Entity, error) {
	oid, err := r.ValidateID(id)
	if err != nil {
		return nil, err
	}

	result, err := r.withEvents("soft_delete", DocumentDeleteStart, DocumentDeleteSuccess, DocumentDeleteFailed, id, func() (any, error) {
		now := time.Now().UTC()
		return r.findOneAndSet(ctx, oid, bson.M{
			"is_deleted": true,
			"deleted_at": now,
			"deleted_by": deletedBy,
			"updated_at": now,
			"updated_by": deletedBy,
		})
	})
	if err != nil {
		return nil, err
	}
	return result.(*entity.Entity), nil
}

// findList runs a list query with the filter as given.
func (r *Repository) findList(ctx context.Context, filter bson.M, opts FindOptions) ([]entity.Entity, error) {
	findOpts := options.Find()
	if len(opts.Sort) > 0 {
		findOpts.SetSort(sortSpec(opts.Sort))
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}

	cursor, err := r.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	entities := []entity.Entity{}
	if err := cursor.All(ctx, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// find runs the count and the paginated list concurrently over the same
// filter and combines them into a FindResult.
func (r *Repository) find(ctx context.Context, filter bson.M, opts FindOptions) (*FindResult, error) {
	var (
		entities []entity.Entity
		total    int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entities, err = r.findList(gctx, filter, opts)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = r.collection.CountDocuments(gctx, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("find on collection '%s' failed: %w", r.name, err)
	}

	page, pageCount := paginate(total, opts)
	return &FindResult{
		Entities:  entities,
		Total:     total,
		Page:      page,
		PageCount: pageCount,
	}, nil
}

// Find returns the non-deleted documents matching the filter together with
// the total count over the same filter. Count and list are issued
// concurrently.
func (r *Repository) Find(ctx context.Context, filter bson.M, opts FindOptions) (*FindResult, error) {
	result, err := r.withEvents("read", DocumentReadStart, DocumentReadSuccess, DocumentReadFailed, filter, func() (any, error) {
		return r.find(ctx, withSoftDeleteFilter(filter), opts)
	})
	if err != nil {
		return nil, err
	}
	return result.(*FindResult), nil
}

// FindDeleted is the one read path that explicitly targets soft-deleted
// documents instead of the default exclusion.
func (r *Repository) FindDeleted(ctx context.Context, filter bson.M, opts FindOptions) (*FindResult, error) {
	return r.find(ctx, withDeletedFilter(filter), opts)
}

// FindOne returns the first non-deleted document matching the filter, or nil
// when nothing matches.
func (r *Repository) FindOne(ctx context.Context, filter bson.M) (*entity.Entity, error) {
	var e entity.Entity
	err := r.collection.FindOne(ctx, withSoftDeleteFilter(filter)).Decode(&e)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("findOne on collection '%s' failed: %w", r.name, err)
	}
	return &e, nil
}

// FindByID returns the non-deleted document with the given identity, or nil.
func (r *Repository) FindByID(ctx context.Context, id string) (*entity.Entity, error) {
	oid, err := r.ValidateID(id)
	if err != nil {
		return nil, err
	}
	return r.FindOne(ctx, bson.M{"_id": oid})
}

// populateStages appends a $lookup/$unwind pair per populate spec, resolving
// identity references into embedded documents.
func populateStages(pipeline mongo.Pipeline, populate []PopulateSpec) mongo.Pipeline {
	for _, p := range populate {
		pipeline = append(pipeline, bson.D{{Key: "$lookup", Value: bson.M{
			"from":         p.From,
			"localField":   p.LocalField,
			"foreignField": "_id",
			"as":           p.As,
		}}})
		pipeline = append(pipeline, bson.D{{Key: "$unwind", Value: bson.M{
			"path":                       "$" + p.As,
			"preserveNullAndEmptyArrays": true,
		}}})
	}
	return pipeline
}

// FindWithPopulate behaves like Find but additionally resolves the given
// references into embedded results via server-side lookups.
func (r *Repository) FindWithPopulate(ctx context.Context, filter bson.M, populate []PopulateSpec, opts FindOptions) ([]entity.Entity, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: withSoftDeleteFilter(filter)}},
	}
	if len(opts.Sort) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$sort", Value: sortSpec(opts.Sort)}})
	}
	if opts.Skip > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$skip", Value: opts.Skip}})
	}
	if opts.Limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: opts.Limit}})
	}
	pipeline = populateStages(pipeline, populate)

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("populate query on collection '%s' failed: %w", r.name, err)
	}
	defer cursor.Close(ctx)

	entities := []entity.Entity{}
	if err := cursor.All(ctx, &entities); err != nil {
		return nil, fmt.Errorf("populate query on collection '%s' failed: %w", r.name, err)
	}
	return entities, nil
}

// FindByIDWithPopulate returns the non-deleted document with the given
// identity, with references resolved, or nil when nothing matches.
func (r *Repository) FindByIDWithPopulate(ctx context.Context, id string, populate []PopulateSpec) (*entity.Entity, error) {
	oid, err := r.ValidateID(id)
	if err != nil {
		return nil, err
	}
	entities, err := r.FindWithPopulate(ctx, bson.M{"_id": oid}, populate, FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return &entities[0], nil
}

// Count counts the non-deleted documents matching the filter.
func (r *Repository) Count(ctx context.Context, filter bson.M) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, withSoftDeleteFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("count on collection '%s' failed: %w", r.name, err)
	}
	return count, nil
}

package persistence

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// duplicateLookupField is the transient field the duplicate-check stage
// correlates into; it is removed before the merge stage.
const duplicateLookupField = "__duplicates"

// CloneSpec describes a cross-collection copy: which source documents to
// clone, how to remap and override fields, and how to suppress duplicates.
type CloneSpec struct {
	// SourceFilter selects source documents; soft-deleted documents are
	// always excluded on top of it.
	SourceFilter bson.M
	// FieldMappings maps target field names to source expression paths.
	FieldMappings map[string]string
	// StaticFields are fixed values set on every clone. When a target field
	// has both a mapping and a static value, the mapped source value wins
	// whenever it is present and non-empty; the static value is the fallback.
	StaticFields map[string]any
	// ExcludeFields are dropped from every clone.
	ExcludeFields []string
	// SkipDuplicates suppresses candidates whose DuplicateCheckField value
	// already exists on a non-deleted target document.
	SkipDuplicates      bool
	DuplicateCheckField string
}

// Validate checks the spec's invariants.
func (s CloneSpec) Validate() error {
	if s.SkipDuplicates && s.DuplicateCheckField == "" {
		return fmt.Errorf("clone spec with skipDuplicates requires a duplicateCheckField")
	}
	return nil
}

// mappedFieldExpression builds the aggregation expression for one mapped
// field. With a static counterpart the expression is conditional: the mapped
// source value is used when it is non-null, non-missing, and not an empty
// string; otherwise the static value is the fallback.
func mappedFieldExpression(sourcePath string, staticValue any, hasStatic bool) any {
	source := "$" + sourcePath
	if !hasStatic {
		return source
	}
	return bson.M{"$cond": bson.M{
		"if": bson.M{"$and": bson.A{
			bson.M{"$ne": bson.A{bson.M{"$type": source}, "missing"}},
			bson.M{"$ne": bson.A{source, nil}},
			bson.M{"$ne": bson.A{source, ""}},
		}},
		"then": source,
		"else": bson.M{"$literal": staticValue},
	}}
}

// buildClonePipeline constructs the multi-stage transform-and-merge pipeline
// executed server-side for a clone.
func buildClonePipeline(target string, spec CloneSpec) mongo.Pipeline {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: withSoftDeleteFilter(spec.SourceFilter)}},
	}

	// Transform stage: static overrides, audit reset, and field remapping.
	set := bson.M{
		"created_at": "$$NOW",
		"updated_at": "$$NOW",
		"is_deleted": false,
	}
	for field, value := range spec.StaticFields {
		if _, mapped := spec.FieldMappings[field]; mapped {
			continue // handled below as the fallback of the mapping
		}
		set[field] = bson.M{"$literal": value}
	}
	for field, sourcePath := range spec.FieldMappings {
		staticValue, hasStatic := spec.StaticFields[field]
		set[field] = mappedFieldExpression(sourcePath, staticValue, hasStatic)
	}
	pipeline = append(pipeline, bson.D{{Key: "$set", Value: set}})

	// The original identity is discarded so the merge assigns a new one.
	unset := bson.A{"_id"}
	for _, field := range spec.ExcludeFields {
		unset = append(unset, field)
	}
	pipeline = append(pipeline, bson.D{{Key: "$unset", Value: unset}})

	if spec.SkipDuplicates {
		pipeline = append(pipeline, bson.D{{Key: "$lookup", Value: bson.M{
			"from": target,
			"let":  bson.M{"candidate": "$" + spec.DuplicateCheckField},
			"pipeline": mongo.Pipeline{
				// Candidates without the check field are never treated as
				// duplicates of targets that also lack it.
				bson.D{{Key: "$match", Value: bson.M{"$expr": bson.M{"$and": bson.A{
					bson.M{"$ne": bson.A{bson.M{"$type": "$$candidate"}, "missing"}},
					bson.M{"$eq": bson.A{"$" + spec.DuplicateCheckField, "$$candidate"}},
					bson.M{"$eq": bson.A{"$is_deleted", false}},
				}}}}},
				bson.D{{Key: "$limit", Value: 1}},
			},
			"as": duplicateLookupField,
		}}})
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.M{
			duplicateLookupField: bson.M{"$size": 0},
		}}})
		pipeline = append(pipeline, bson.D{{Key: "$unset", Value: duplicateLookupField}})
	}

	pipeline = append(pipeline, bson.D{{Key: "$merge", Value: bson.M{
		"into":           target,
		"whenMatched":    "keepExisting",
		"whenNotMatched": "insert",
	}}})

	return pipeline
}

// CloneToCollection copies matching source documents into the target
// collection as one server-side pipeline. Runtime failures are collected into
// the result's Errors instead of aborting the reported outcome; the counts
// approximate the matched source count and should only be trusted when
// Errors is empty.
func (r *Repository) CloneToCollection(ctx context.Context, target string, spec CloneSpec) (*CloneResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	result, err := r.withEvents("clone", CloneStart, CloneSuccess, CloneFailed, target, func() (any, error) {
		out := &CloneResult{}

		matched, err := r.collection.CountDocuments(ctx, withSoftDeleteFilter(spec.SourceFilter))
		if err != nil {
			out.Errors = append(out.Errors, CloneError{Target: target, Stage: "match", Err: err})
			return out, nil
		}

		pipeline := buildClonePipeline(target, spec)
		r.logger.Debug("executing clone pipeline",
			zap.String("source", r.name),
			zap.String("target", target),
			zap.Int64("matched", matched))

		cursor, err := r.collection.Aggregate(ctx, pipeline)
		if err != nil {
			out.Errors = append(out.Errors, CloneError{Target: target, Stage: "merge", Err: err})
			return out, nil
		}
		cursor.Close(ctx)

		out.ProcessedCount = matched
		out.InsertedCount = matched
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*CloneResult), nil
}

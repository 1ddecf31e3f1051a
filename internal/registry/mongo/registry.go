package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"dramastream/aggregator/internal/domain"
)

// Collection names follow the layout the admin tooling expects.
const (
	vodSourcesCollection      = "vod_sources"
	vodSelectionCollection    = "vod_source_selection"
	shortsSourcesCollection   = "shorts_sources"
	shortsSelectionCollection = "shorts_source_selection"

	selectionID = 1
)

type sourceDoc struct {
	Key            string `bson:"key"`
	Name           string `bson:"name"`
	API            string `bson:"api"`
	TypeID         int    `bson:"type_id,omitempty"`
	PlayURL        string `bson:"play_url,omitempty"`
	UsePlayURL     *bool  `bson:"use_play_url,omitempty"`
	Priority       int    `bson:"priority"`
	SearchProxy    string `bson:"search_proxy,omitempty"`
	ParseProxy     string `bson:"parse_proxy,omitempty"`
	ParseToken     string `bson:"parse_token,omitempty"`
	ParseID        string `bson:"parse_id,omitempty"`
	SearchParam    string `bson:"search_param,omitempty"`
	PageParam      string `bson:"page_param,omitempty"`
	TimeoutSeconds int    `bson:"timeout_seconds,omitempty"`
	Type           string `bson:"type"`
	Enabled        bool   `bson:"enabled"`
	SortOrder      int    `bson:"sort_order"`
	CreatedAt      string `bson:"created_at"`
	UpdatedAt      string `bson:"updated_at"`
}

type selectionDoc struct {
	ID          int    `bson:"id"`
	SelectedKey string `bson:"selected_key,omitempty"`
	UpdatedAt   string `bson:"updated_at"`
}

// Registry is the Mongo-backed source store for one catalog kind. The
// sources collection holds one document per descriptor keyed by `key`; the
// selection collection holds a single fixed-id document.
type Registry struct {
	client    *mongo.Client
	sources   *mongo.Collection
	selection *mongo.Collection
	kind      domain.SourceKind
}

func NewVodRegistry(client *mongo.Client, dbName string) *Registry {
	db := client.Database(dbName)
	return &Registry{
		client:    client,
		sources:   db.Collection(vodSourcesCollection),
		selection: db.Collection(vodSelectionCollection),
		kind:      domain.SourceKindVod,
	}
}

func NewShortsRegistry(client *mongo.Client, dbName string) *Registry {
	db := client.Database(dbName)
	return &Registry{
		client:    client,
		sources:   db.Collection(shortsSourcesCollection),
		selection: db.Collection(shortsSelectionCollection),
		kind:      domain.SourceKindShorts,
	}
}

func (r *Registry) Kind() domain.SourceKind { return r.kind }

func (r *Registry) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	_, err := r.sources.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "key", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "enabled", Value: 1}}},
		{Keys: bson.D{{Key: "sort_order", Value: 1}}},
	})
	if err != nil {
		return err
	}
	_, err = r.selection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *Registry) List(ctx context.Context, includeDisabled bool) ([]domain.SourceDescriptor, error) {
	filter := bson.M{}
	if !includeDisabled {
		filter["enabled"] = true
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "priority", Value: 1},
		{Key: "sort_order", Value: 1},
		{Key: "_id", Value: 1},
	})
	cursor, err := r.sources.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []sourceDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return fromDocs(docs), nil
}

func (r *Registry) GetByKey(ctx context.Context, key string) (domain.SourceDescriptor, error) {
	var doc sourceDoc
	if err := r.sources.FindOne(ctx, bson.M{"key": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.SourceDescriptor{}, domain.ErrNotFound
		}
		return domain.SourceDescriptor{}, err
	}
	return fromDoc(doc), nil
}

func (r *Registry) Create(ctx context.Context, src domain.SourceDescriptor) error {
	if err := src.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	doc := toDoc(src)
	doc.CreatedAt = isoTime(now)
	doc.UpdatedAt = isoTime(now)
	if _, err := r.sources.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *Registry) Update(ctx context.Context, src domain.SourceDescriptor) error {
	if err := src.Validate(); err != nil {
		return err
	}
	doc := toDoc(src)
	doc.UpdatedAt = isoTime(time.Now().UTC())
	res, err := r.sources.UpdateOne(ctx,
		bson.M{"key": src.Key},
		bson.M{"$set": updateFields(doc)},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Registry) SetEnabled(ctx context.Context, key string, enabled bool) error {
	res, err := r.sources.UpdateOne(ctx,
		bson.M{"key": key},
		bson.M{"$set": bson.M{
			"enabled":    enabled,
			"updated_at": isoTime(time.Now().UTC()),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Registry) Delete(ctx context.Context, key string) error {
	res, err := r.sources.DeleteOne(ctx, bson.M{"key": key})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ReplaceAll swaps the registry content in a multi-document transaction so
// readers never observe a half-cleared collection. Standalone deployments
// without transaction support fall back to an ordered bulk write.
func (r *Registry) ReplaceAll(ctx context.Context, sources []domain.SourceDescriptor) error {
	now := isoTime(time.Now().UTC())
	docs := make([]any, 0, len(sources))
	for index, src := range sources {
		if err := src.Validate(); err != nil {
			return err
		}
		doc := toDoc(src)
		doc.SortOrder = index
		doc.Enabled = true
		doc.CreatedAt = now
		doc.UpdatedAt = now
		docs = append(docs, doc)
	}

	session, err := r.client.StartSession()
	if err == nil {
		defer session.EndSession(ctx)
		_, txErr := session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
			if _, err := r.sources.DeleteMany(sc, bson.M{}); err != nil {
				return nil, err
			}
			if len(docs) > 0 {
				if _, err := r.sources.InsertMany(sc, docs); err != nil {
					return nil, err
				}
			}
			return nil, nil
		})
		if txErr == nil {
			return nil
		}
		if !isTransactionUnsupported(txErr) {
			return txErr
		}
	}

	models := make([]mongo.WriteModel, 0, len(docs)+1)
	models = append(models, mongo.NewDeleteManyModel().SetFilter(bson.M{}))
	for _, doc := range docs {
		models = append(models, mongo.NewInsertOneModel().SetDocument(doc))
	}
	_, err = r.sources.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	return err
}

func (r *Registry) SelectedKey(ctx context.Context) (string, error) {
	var doc selectionDoc
	err := r.selection.FindOne(ctx, bson.M{"id": selectionID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", nil
		}
		return "", err
	}
	return doc.SelectedKey, nil
}

func (r *Registry) SetSelectedKey(ctx context.Context, key string) error {
	count, err := r.sources.CountDocuments(ctx, bson.M{"key": key})
	if err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	_, err = r.selection.UpdateOne(ctx,
		bson.M{"id": selectionID},
		bson.M{"$set": bson.M{
			"id":           selectionID,
			"selected_key": key,
			"updated_at":   isoTime(time.Now().UTC()),
		}},
		options.Update().SetUpsert(true),
	)
	return err
}

func toDoc(src domain.SourceDescriptor) sourceDoc {
	doc := sourceDoc{
		Key:            strings.TrimSpace(src.Key),
		Name:           strings.TrimSpace(src.Name),
		API:            strings.TrimSpace(src.API),
		TypeID:         src.TypeID,
		PlayURL:        src.PlayURL,
		Priority:       src.Priority,
		SearchProxy:    src.SearchProxy,
		ParseProxy:     src.ParseProxy,
		ParseToken:     src.ParseToken,
		ParseID:        src.ParseID,
		SearchParam:    src.SearchParam,
		PageParam:      src.PageParam,
		TimeoutSeconds: src.TimeoutSeconds,
		Type:           "json",
		Enabled:        src.Enabled,
		SortOrder:      src.SortOrder,
		CreatedAt:      isoTime(src.CreatedAt),
		UpdatedAt:      isoTime(src.UpdatedAt),
	}
	if src.PlayURL != "" || src.UsePlayURL {
		use := src.UsePlayURL
		doc.UsePlayURL = &use
	}
	return doc
}

func fromDoc(doc sourceDoc) domain.SourceDescriptor {
	// Historical documents omit use_play_url; it defaults to true.
	usePlayURL := true
	if doc.UsePlayURL != nil {
		usePlayURL = *doc.UsePlayURL
	}
	return domain.SourceDescriptor{
		Key:            doc.Key,
		Name:           doc.Name,
		API:            doc.API,
		TypeID:         doc.TypeID,
		Priority:       doc.Priority,
		Enabled:        doc.Enabled,
		PlayURL:        doc.PlayURL,
		UsePlayURL:     usePlayURL,
		SearchProxy:    doc.SearchProxy,
		ParseProxy:     doc.ParseProxy,
		ParseToken:     doc.ParseToken,
		ParseID:        doc.ParseID,
		SearchParam:    doc.SearchParam,
		PageParam:      doc.PageParam,
		TimeoutSeconds: doc.TimeoutSeconds,
		SortOrder:      doc.SortOrder,
		CreatedAt:      timeFromISO(doc.CreatedAt),
		UpdatedAt:      timeFromISO(doc.UpdatedAt),
	}
}

func fromDocs(docs []sourceDoc) []domain.SourceDescriptor {
	sources := make([]domain.SourceDescriptor, 0, len(docs))
	for _, doc := range docs {
		sources = append(sources, fromDoc(doc))
	}
	return sources
}

// updateFields builds the $set document for Update, leaving created_at
// untouched.
func updateFields(doc sourceDoc) bson.M {
	fields := bson.M{
		"name":       doc.Name,
		"api":        doc.API,
		"type_id":    doc.TypeID,
		"play_url":   doc.PlayURL,
		"priority":   doc.Priority,
		"enabled":    doc.Enabled,
		"sort_order": doc.SortOrder,
		"type":       doc.Type,
		"updated_at": doc.UpdatedAt,
	}
	if doc.UsePlayURL != nil {
		fields["use_play_url"] = *doc.UsePlayURL
	}
	for key, value := range map[string]string{
		"search_proxy": doc.SearchProxy,
		"parse_proxy":  doc.ParseProxy,
		"parse_token":  doc.ParseToken,
		"parse_id":     doc.ParseID,
		"search_param": doc.SearchParam,
		"page_param":   doc.PageParam,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	if doc.TimeoutSeconds > 0 {
		fields["timeout_seconds"] = doc.TimeoutSeconds
	}
	return fields
}

func isoTime(value time.Time) string {
	if value.IsZero() {
		value = time.Now().UTC()
	}
	return value.UTC().Format(time.RFC3339)
}

func timeFromISO(raw string) time.Time {
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

func isTransactionUnsupported(err error) bool {
	if err == nil {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Name == "IllegalOperation" {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Transaction numbers") ||
		strings.Contains(msg, "transactions are not supported")
}

package mongodb

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/user/formforge/internal/storage"
	"github.com/user/formforge/pkg/evaluator"
)

type mongoStorage struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoStorage(client *mongo.Client, dbName string) storage.Storage {
	return &mongoStorage{
		client: client,
		db:     client.Database(dbName),
	}
}

// Init creates the indexes the queries depend on. Unique-sparse
// indexes let employee_id and mobile stay optional while enforcing
// uniqueness when present. The blocklist uses a TTL index so revoked
// tokens expire with the tokens themselves.
func (s *mongoStorage) Init(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		"users": {
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "employee_id", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
			{Keys: bson.D{{Key: "mobile", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		},
		"forms": {
			{Keys: bson.D{{Key: "slug", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "created_by", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		"responses": {
			{Keys: bson.D{{Key: "form", Value: 1}, {Key: "submitted_at", Value: -1}}},
			{Keys: bson.D{{Key: "submitted_by", Value: 1}}},
			{Keys: bson.D{{Key: "form", Value: 1}, {Key: "deleted", Value: 1}, {Key: "is_draft", Value: 1}}},
		},
		"response_history": {
			{Keys: bson.D{{Key: "response_id", Value: 1}, {Key: "version", Value: -1}}},
			{Keys: bson.D{{Key: "form_id", Value: 1}}},
		},
		"comments": {
			{Keys: bson.D{{Key: "response_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "form_id", Value: 1}}},
		},
		"saved_searches": {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "form_id", Value: 1}}},
		},
		"blocklist": {
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		},
		"workflows": {
			{Keys: bson.D{{Key: "trigger_form_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		"audit_logs": {
			{Keys: bson.D{{Key: "timestamp", Value: -1}}},
			{Keys: bson.D{{Key: "entity_type", Value: 1}, {Key: "entity_id", Value: 1}}},
		},
	}

	for collName, models := range indexes {
		if _, err := s.db.Collection(collName).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes for %s: %w", collName, err)
		}
	}
	return nil
}

func mapWriteErr(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return storage.ErrDuplicate
	}
	return err
}

// Users

func (s *mongoStorage) CreateUser(ctx context.Context, user storage.User) error {
	_, err := s.db.Collection("users").InsertOne(ctx, user)
	return mapWriteErr(err)
}

func (s *mongoStorage) UpdateUser(ctx context.Context, user storage.User) error {
	res, err := s.db.Collection("users").ReplaceOne(ctx, bson.M{"_id": user.ID}, user)
	if err != nil {
		return mapWriteErr(err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *mongoStorage) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.Collection("users").DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *mongoStorage) GetUser(ctx context.Context, id string) (storage.User, error) {
	var u storage.User
	err := s.db.Collection("users").FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return u, storage.ErrNotFound
	}
	return u, err
}

func (s *mongoStorage) GetUserByIdentifier(ctx context.Context, identifier string) (storage.User, error) {
	identifier = strings.ToLower(identifier)
	q := bson.M{"$or": []bson.M{
		{"email": identifier},
		{"username": identifier},
		{"employee_id": bson.M{"$regex": "^" + regexp.QuoteMeta(identifier) + "$", "$options": "i"}},
	}}
	var u storage.User
	err := s.db.Collection("users").FindOne(ctx, q).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return u, storage.ErrNotFound
	}
	return u, err
}

func (s *mongoStorage) GetUserByMobile(ctx context.Context, mobile string) (storage.User, error) {
	var u storage.User
	err := s.db.Collection("users").FindOne(ctx, bson.M{"mobile": mobile}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return u, storage.ErrNotFound
	}
	return u, err
}

func (s *mongoStorage) ListUsers(ctx context.Context, filter storage.CommonFilter) ([]storage.User, int, error) {
	q := bson.M{}
	if filter.Search != "" {
		re := regexp.QuoteMeta(filter.Search)
		q["$or"] = []bson.M{
			{"username": bson.M{"$regex": re, "$options": "i"}},
			{"email": bson.M{"$regex": re, "$options": "i"}},
		}
	}
	coll := s.db.Collection("users")
	total64, err := coll.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	applyPaging(opts, filter.Page, filter.Limit)
	cur, err := coll.Find(ctx, q, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	var users []storage.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, 0, err
	}
	return users, int(total64), nil
}

// Forms

func (s *mongoStorage) CreateForm(ctx context.Context, form storage.Form) error {
	_, err := s.db.Collection("forms").InsertOne(ctx, form)
	return mapWriteErr(err)
}

func (s *mongoStorage) UpdateForm(ctx context.Context, form storage.Form) error {
	res, err := s.db.Collection("forms").ReplaceOne(ctx, bson.M{"_id": form.ID}, form)
	if err != nil {
		return mapWriteErr(err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteForm removes the form and everything hanging off it.
func (s *mongoStorage) DeleteForm(ctx context.Context, id string) error {
	res, err := s.db.Collection("forms").DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	if _, err := s.db.Collection("responses").DeleteMany(ctx, bson.M{"form": id}); err != nil {
		return err
	}
	if _, err := s.db.Collection("response_history").DeleteMany(ctx, bson.M{"form_id": id}); err != nil {
		return err
	}
	if _, err := s.db.Collection("comments").DeleteMany(ctx, bson.M{"form_id": id}); err != nil {
		return err
	}
	_, err = s.db.Collection("saved_searches").DeleteMany(ctx, bson.M{"form_id": id})
	return err
}

func (s *mongoStorage) GetForm(ctx context.Context, id string) (storage.Form, error) {
	var f storage.Form
	err := s.db.Collection("forms").FindOne(ctx, bson.M{"_id": id}).Decode(&f)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return f, storage.ErrNotFound
	}
	return f, err
}

func (s *mongoStorage) GetFormBySlug(ctx context.Context, slug string) (storage.Form, error) {
	var f storage.Form
	err := s.db.Collection("forms").FindOne(ctx, bson.M{"slug": slug}).Decode(&f)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return f, storage.ErrNotFound
	}
	return f, err
}

func (s *mongoStorage) ListForms(ctx context.Context, filter storage.FormFilter) ([]storage.Form, int, error) {
	q := bson.M{}
	if filter.CreatedBy != "" {
		q["created_by"] = filter.CreatedBy
	}
	if filter.Status != "" {
		q["status"] = filter.Status
	}
	if filter.Search != "" {
		re := regexp.QuoteMeta(filter.Search)
		q["$or"] = []bson.M{
			{"title": bson.M{"$regex": re, "$options": "i"}},
			{"slug": bson.M{"$regex": re, "$options": "i"}},
		}
	}
	coll := s.db.Collection("forms")
	total64, err := coll.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	applyPaging(opts, filter.Page, filter.Limit)
	cur, err := coll.Find(ctx, q, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	var forms []storage.Form
	if err := cur.All(ctx, &forms); err != nil {
		return nil, 0, err
	}
	return forms, int(total64), nil
}

// Responses

// responseDoc carries a denormalized flat answers map alongside the
// response so filter-tree queries hit "flat.<question_id>" instead of
// scanning nested section layouts.
type responseDoc struct {
	storage.FormResponse `bson:",inline"`
	Flat                 map[string]any `bson:"flat,omitempty"`
}

func (s *mongoStorage) InsertResponse(ctx context.Context, resp storage.FormResponse, hist storage.ResponseHistory) error {
	doc := responseDoc{FormResponse: resp, Flat: evaluator.Flatten(resp.Data)}
	if _, err := s.db.Collection("responses").InsertOne(ctx, doc); err != nil {
		return mapWriteErr(err)
	}
	_, err := s.db.Collection("response_history").InsertOne(ctx, hist)
	return mapWriteErr(err)
}

func (s *mongoStorage) UpdateResponse(ctx context.Context, resp storage.FormResponse, hist storage.ResponseHistory) error {
	doc := responseDoc{FormResponse: resp, Flat: evaluator.Flatten(resp.Data)}
	res, err := s.db.Collection("responses").ReplaceOne(ctx, bson.M{"_id": resp.ID}, doc)
	if err != nil {
		return mapWriteErr(err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	_, err = s.db.Collection("response_history").InsertOne(ctx, hist)
	return mapWriteErr(err)
}

func (s *mongoStorage) GetResponse(ctx context.Context, id string) (storage.FormResponse, error) {
	var doc responseDoc
	err := s.db.Collection("responses").FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.FormResponse{}, storage.ErrNotFound
	}
	return doc.FormResponse, err
}

// fieldPath maps a filter field id onto its document path.
func fieldPath(fieldID string) string {
	switch fieldID {
	case "submitted_at", "submitted_by", "status", "version":
		return fieldID
	default:
		return "flat." + fieldID
	}
}

func nodeQuery(node storage.FilterNode) (bson.M, error) {
	switch {
	case len(node.And) > 0:
		parts := make([]bson.M, 0, len(node.And))
		for _, child := range node.And {
			q, err := nodeQuery(child)
			if err != nil {
				return nil, err
			}
			parts = append(parts, q)
		}
		return bson.M{"$and": parts}, nil
	case len(node.Or) > 0:
		parts := make([]bson.M, 0, len(node.Or))
		for _, child := range node.Or {
			q, err := nodeQuery(child)
			if err != nil {
				return nil, err
			}
			parts = append(parts, q)
		}
		return bson.M{"$or": parts}, nil
	case node.Not != nil:
		q, err := nodeQuery(*node.Not)
		if err != nil {
			return nil, err
		}
		return bson.M{"$nor": []bson.M{q}}, nil
	case node.DateRange != nil:
		rng := bson.M{}
		if node.DateRange.From != nil {
			rng["$gte"] = *node.DateRange.From
		}
		if node.DateRange.To != nil {
			rng["$lte"] = *node.DateRange.To
		}
		return bson.M{fieldPath(node.FieldID): rng}, nil
	}
	return leafQuery(node)
}

func leafQuery(node storage.FilterNode) (bson.M, error) {
	path := fieldPath(node.FieldID)
	switch node.Op {
	case "eq", "":
		return bson.M{path: node.Value}, nil
	case "ne":
		return bson.M{path: bson.M{"$ne": node.Value}}, nil
	case "gt", "gte", "lt", "lte":
		return bson.M{path: bson.M{"$" + node.Op: node.Value}}, nil
	case "in":
		list, ok := node.Value.([]any)
		if !ok {
			return nil, fmt.Errorf("in operator needs a list value")
		}
		return bson.M{path: bson.M{"$in": list}}, nil
	case "contains", "icontains":
		re := regexp.QuoteMeta(fmt.Sprintf("%v", node.Value))
		return bson.M{path: bson.M{"$regex": re, "$options": "i"}}, nil
	case "exists":
		want := true
		if b, ok := node.Value.(bool); ok {
			want = b
		}
		return bson.M{path: bson.M{"$exists": want}}, nil
	}
	return nil, fmt.Errorf("unknown filter operator %q", node.Op)
}

func responseQuery(filter storage.ResponseFilter) (bson.M, error) {
	q := bson.M{}
	if filter.FormID != "" {
		q["form"] = filter.FormID
	}
	if filter.SubmittedBy != "" {
		q["submitted_by"] = filter.SubmittedBy
	}
	if !filter.IncludeDeleted {
		q["deleted"] = false
	}
	if !filter.IncludeDrafts {
		q["is_draft"] = false
	}
	if filter.Filter != nil {
		sub, err := nodeQuery(*filter.Filter)
		if err != nil {
			return nil, err
		}
		for k, v := range sub {
			q[k] = v
		}
	}
	return q, nil
}

func responseSort(filter storage.ResponseFilter) bson.D {
	field := filter.SortField
	desc := filter.SortDesc
	if field == "" {
		field = "submitted_at"
		desc = true
	}
	dir := 1
	if desc {
		dir = -1
	}
	// _id tiebreak keeps pagination stable across equal sort values.
	return bson.D{{Key: fieldPath(field), Value: dir}, {Key: "_id", Value: 1}}
}

// cursorToken marks the last document of a page as (sort value, _id).
// Pages resume by seeking past that pair on the sorted index, so
// inserts and deletes between page fetches never skip or duplicate
// rows.
type cursorToken struct {
	SortValue any    `json:"v"`
	LastID    string `json:"id"`
}

func decodeCursor(raw string) (*cursorToken, error) {
	if raw == "" {
		return nil, nil
	}
	data, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	var c cursorToken
	if err := json.Unmarshal(data, &c); err != nil || c.LastID == "" {
		return nil, fmt.Errorf("invalid cursor")
	}
	// Timestamps round-trip through JSON as RFC 3339 strings; restore
	// them so the driver compares against BSON dates.
	if s, ok := c.SortValue.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			c.SortValue = t
		}
	}
	return &c, nil
}

func encodeCursor(last responseDoc, field string) string {
	data, _ := json.Marshal(cursorToken{SortValue: docSortValue(last, field), LastID: last.ID})
	return base64.URLEncoding.EncodeToString(data)
}

func docSortValue(d responseDoc, field string) any {
	switch field {
	case "submitted_at":
		return d.SubmittedAt
	case "status":
		return string(d.Status)
	case "submitted_by":
		return d.SubmittedBy
	case "version":
		return d.Version
	default:
		return d.Flat[field]
	}
}

// seekClause resumes after (sort value, _id). The _id tiebreak is
// always ascending, matching responseSort.
func seekClause(field string, desc bool, c *cursorToken) bson.M {
	op := "$gt"
	if desc {
		op = "$lt"
	}
	path := fieldPath(field)
	return bson.M{"$or": bson.A{
		bson.M{path: bson.M{op: c.SortValue}},
		bson.M{path: c.SortValue, "_id": bson.M{"$gt": c.LastID}},
	}}
}

func (s *mongoStorage) SearchResponses(ctx context.Context, filter storage.ResponseFilter) ([]storage.FormResponse, string, error) {
	c, err := decodeCursor(filter.Cursor)
	if err != nil {
		return nil, "", err
	}
	q, err := responseQuery(filter)
	if err != nil {
		return nil, "", err
	}
	field, desc := filter.SortField, filter.SortDesc
	if field == "" {
		field, desc = "submitted_at", true
	}
	query := q
	if c != nil {
		query = bson.M{"$and": bson.A{q, seekClause(field, desc, c)}}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	// Fetch one extra row to learn whether another page exists.
	opts := options.Find().
		SetSort(responseSort(filter)).
		SetLimit(int64(limit + 1))
	cur, err := s.db.Collection("responses").Find(ctx, query, opts)
	if err != nil {
		return nil, "", err
	}
	defer cur.Close(ctx)

	var docs []responseDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, "", err
	}
	next := ""
	if len(docs) > limit {
		docs = docs[:limit]
		next = encodeCursor(docs[limit-1], field)
	}
	out := make([]storage.FormResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.FormResponse)
	}
	return out, next, nil
}

func (s *mongoStorage) ListResponses(ctx context.Context, filter storage.ResponseFilter) ([]storage.FormResponse, int, error) {
	q, err := responseQuery(filter)
	if err != nil {
		return nil, 0, err
	}
	coll := s.db.Collection("responses")
	total64, err := coll.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().SetSort(responseSort(filter))
	applyPaging(opts, filter.Page, filter.Limit)
	cur, err := coll.Find(ctx, q, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	var docs []responseDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, err
	}
	out := make([]storage.FormResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.FormResponse)
	}
	return out, int(total64), nil
}

func (s *mongoStorage) CountResponses(ctx context.Context, filter storage.ResponseFilter) (int, error) {
	q, err := responseQuery(filter)
	if err != nil {
		return 0, err
	}
	total64, err := s.db.Collection("responses").CountDocuments(ctx, q)
	return int(total64), err
}

func (s *mongoStorage) ListHistory(ctx context.Context, responseID string) ([]storage.ResponseHistory, error) {
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: 1}})
	cur, err := s.db.Collection("response_history").Find(ctx, bson.M{"response_id": responseID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var entries []storage.ResponseHistory
	if err := cur.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *mongoStorage) NextHistoryRevision(ctx context.Context, responseID string) (int, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}})
	var last storage.ResponseHistory
	err := s.db.Collection("response_history").FindOne(ctx, bson.M{"response_id": responseID}, opts).Decode(&last)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return last.Revision + 1, nil
}

// Analytics

func (s *mongoStorage) ResponseSummary(ctx context.Context, formID string) (storage.ResponseSummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"form": formID, "deleted": false}}},
		{{Key: "$group", Value: bson.M{
			"_id":   bson.M{"draft": "$is_draft", "status": "$status"},
			"count": bson.M{"$sum": 1},
			"last":  bson.M{"$max": "$submitted_at"},
		}}},
	}
	cur, err := s.db.Collection("responses").Aggregate(ctx, pipeline)
	if err != nil {
		return storage.ResponseSummary{}, err
	}
	defer cur.Close(ctx)

	summary := storage.ResponseSummary{ByStatus: make(map[string]int)}
	for cur.Next(ctx) {
		var row struct {
			ID struct {
				Draft  bool   `bson:"draft"`
				Status string `bson:"status"`
			} `bson:"_id"`
			Count int       `bson:"count"`
			Last  time.Time `bson:"last"`
		}
		if err := cur.Decode(&row); err != nil {
			return summary, err
		}
		if row.ID.Draft {
			summary.Drafts += row.Count
			continue
		}
		summary.Total += row.Count
		summary.ByStatus[row.ID.Status] += row.Count
		if summary.LastSubmittedAt == nil || row.Last.After(*summary.LastSubmittedAt) {
			t := row.Last
			summary.LastSubmittedAt = &t
		}
	}
	return summary, cur.Err()
}

func (s *mongoStorage) ResponseTimeline(ctx context.Context, formID string, days int) ([]storage.TimelinePoint, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"form":         formID,
			"deleted":      false,
			"is_draft":     false,
			"submitted_at": bson.M{"$gte": cutoff},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   bson.M{"$dateToString": bson.M{"format": "%Y-%m-%d", "date": "$submitted_at"}},
			"count": bson.M{"$sum": 1},
		}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	}
	cur, err := s.db.Collection("responses").Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var points []storage.TimelinePoint
	for cur.Next(ctx) {
		var row struct {
			ID    string `bson:"_id"`
			Count int    `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		points = append(points, storage.TimelinePoint{Date: row.ID, Count: row.Count})
	}
	return points, cur.Err()
}

// Comments

func (s *mongoStorage) CreateComment(ctx context.Context, c storage.ResponseComment) error {
	_, err := s.db.Collection("comments").InsertOne(ctx, c)
	return mapWriteErr(err)
}

func (s *mongoStorage) ListComments(ctx context.Context, responseID string) ([]storage.ResponseComment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.db.Collection("comments").Find(ctx, bson.M{"response_id": responseID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var comments []storage.ResponseComment
	if err := cur.All(ctx, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

func (s *mongoStorage) DeleteComment(ctx context.Context, id string) error {
	res, err := s.db.Collection("comments").DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Saved searches

func (s *mongoStorage) CreateSavedSearch(ctx context.Context, ss storage.SavedSearch) error {
	_, err := s.db.Collection("saved_searches").InsertOne(ctx, ss)
	return mapWriteErr(err)
}

func (s *mongoStorage) ListSavedSearches(ctx context.Context, userID, formID string) ([]storage.SavedSearch, error) {
	q := bson.M{"user_id": userID}
	if formID != "" {
		q["form_id"] = formID
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.db.Collection("saved_searches").Find(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var searches []storage.SavedSearch
	if err := cur.All(ctx, &searches); err != nil {
		return nil, err
	}
	return searches, nil
}

func (s *mongoStorage) DeleteSavedSearch(ctx context.Context, id string) error {
	res, err := s.db.Collection("saved_searches").DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Blocklist

func (s *mongoStorage) AddBlocklistEntry(ctx context.Context, e storage.BlocklistEntry) error {
	_, err := s.db.Collection("blocklist").InsertOne(ctx, e)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (s *mongoStorage) IsBlocklisted(ctx context.Context, jti string) (bool, error) {
	var e storage.BlocklistEntry
	err := s.db.Collection("blocklist").FindOne(ctx, bson.M{"_id": jti}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.ExpiresAt.After(time.Now()), nil
}

// Workflows

func (s *mongoStorage) CreateWorkflow(ctx context.Context, wf storage.FormWorkflow) error {
	_, err := s.db.Collection("workflows").InsertOne(ctx, wf)
	return mapWriteErr(err)
}

func (s *mongoStorage) UpdateWorkflow(ctx context.Context, wf storage.FormWorkflow) error {
	res, err := s.db.Collection("workflows").ReplaceOne(ctx, bson.M{"_id": wf.ID}, wf)
	if err != nil {
		return mapWriteErr(err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *mongoStorage) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.Collection("workflows").DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *mongoStorage) GetWorkflow(ctx context.Context, id string) (storage.FormWorkflow, error) {
	var wf storage.FormWorkflow
	err := s.db.Collection("workflows").FindOne(ctx, bson.M{"_id": id}).Decode(&wf)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return wf, storage.ErrNotFound
	}
	return wf, err
}

func (s *mongoStorage) ListWorkflows(ctx context.Context, filter storage.WorkflowFilter) ([]storage.FormWorkflow, int, error) {
	q := bson.M{}
	if filter.TriggerFormID != "" {
		q["trigger_form_id"] = filter.TriggerFormID
	}
	if filter.ActiveOnly {
		q["is_active"] = true
	}
	if filter.Search != "" {
		q["name"] = bson.M{"$regex": regexp.QuoteMeta(filter.Search), "$options": "i"}
	}
	coll := s.db.Collection("workflows")
	total64, err := coll.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	// Creation order drives first-match-wins selection.
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	applyPaging(opts, filter.Page, filter.Limit)
	cur, err := coll.Find(ctx, q, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	var workflows []storage.FormWorkflow
	if err := cur.All(ctx, &workflows); err != nil {
		return nil, 0, err
	}
	return workflows, int(total64), nil
}

// Audit logs

func (s *mongoStorage) CreateAuditLog(ctx context.Context, log storage.AuditLog) error {
	_, err := s.db.Collection("audit_logs").InsertOne(ctx, log)
	return err
}

func (s *mongoStorage) ListAuditLogs(ctx context.Context, filter storage.AuditLogFilter) ([]storage.AuditLog, int, error) {
	q := bson.M{}
	if filter.Level != "" {
		q["level"] = filter.Level
	}
	if filter.Action != "" {
		q["action"] = filter.Action
	}
	if filter.EntityID != "" {
		q["entity_id"] = filter.EntityID
	}
	if filter.EntityType != "" {
		q["entity_type"] = filter.EntityType
	}
	coll := s.db.Collection("audit_logs")
	total64, err := coll.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	applyPaging(opts, filter.Page, filter.Limit)
	cur, err := coll.Find(ctx, q, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	var logs []storage.AuditLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, 0, err
	}
	return logs, int(total64), nil
}

func applyPaging(opts *options.FindOptionsBuilder, page, limit int) {
	if limit <= 0 {
		return
	}
	if page < 1 {
		page = 1
	}
	opts.SetLimit(int64(limit)).SetSkip(int64((page - 1) * limit))
}

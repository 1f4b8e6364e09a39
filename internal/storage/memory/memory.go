package memory

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/formforge/internal/storage"
	"github.com/user/formforge/pkg/evaluator"
)

// Store is a mutex-guarded in-memory Storage implementation for tests
// and single-node development. It mirrors the MongoDB implementation's
// semantics, including unique-sparse user identifiers and cascading
// form deletes.
type Store struct {
	mu            sync.RWMutex
	users         map[string]storage.User
	forms         map[string]storage.Form
	responses     map[string]storage.FormResponse
	history       map[string][]storage.ResponseHistory
	comments      map[string]storage.ResponseComment
	savedSearches map[string]storage.SavedSearch
	blocklist     map[string]storage.BlocklistEntry
	workflows     map[string]storage.FormWorkflow
	auditLogs     []storage.AuditLog
}

func New() *Store {
	return &Store{
		users:         make(map[string]storage.User),
		forms:         make(map[string]storage.Form),
		responses:     make(map[string]storage.FormResponse),
		history:       make(map[string][]storage.ResponseHistory),
		comments:      make(map[string]storage.ResponseComment),
		savedSearches: make(map[string]storage.SavedSearch),
		blocklist:     make(map[string]storage.BlocklistEntry),
		workflows:     make(map[string]storage.FormWorkflow),
	}
}

// Users

func (s *Store) userConflicts(user storage.User) bool {
	for _, u := range s.users {
		if u.ID == user.ID {
			continue
		}
		if u.Username == user.Username || u.Email == user.Email {
			return true
		}
		if user.EmployeeID != "" && u.EmployeeID == user.EmployeeID {
			return true
		}
		if user.Mobile != "" && u.Mobile == user.Mobile {
			return true
		}
	}
	return false
}

func (s *Store) CreateUser(_ context.Context, user storage.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return storage.ErrDuplicate
	}
	if s.userConflicts(user) {
		return storage.ErrDuplicate
	}
	s.users[user.ID] = user
	return nil
}

func (s *Store) UpdateUser(_ context.Context, user storage.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return storage.ErrNotFound
	}
	if s.userConflicts(user) {
		return storage.ErrDuplicate
	}
	s.users[user.ID] = user
	return nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByIdentifier(_ context.Context, identifier string) (storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identifier = strings.ToLower(identifier)
	for _, u := range s.users {
		if strings.ToLower(u.Email) == identifier ||
			strings.ToLower(u.Username) == identifier ||
			(u.EmployeeID != "" && strings.ToLower(u.EmployeeID) == identifier) {
			return u, nil
		}
	}
	return storage.User{}, storage.ErrNotFound
}

func (s *Store) GetUserByMobile(_ context.Context, mobile string) (storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Mobile != "" && u.Mobile == mobile {
			return u, nil
		}
	}
	return storage.User{}, storage.ErrNotFound
}

func (s *Store) ListUsers(_ context.Context, filter storage.CommonFilter) ([]storage.User, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.User
	search := strings.ToLower(filter.Search)
	for _, u := range s.users {
		if search != "" &&
			!strings.Contains(strings.ToLower(u.Username), search) &&
			!strings.Contains(strings.ToLower(u.Email), search) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	total := len(out)
	return paginate(out, filter.Page, filter.Limit), total, nil
}

// Forms

func (s *Store) CreateForm(_ context.Context, form storage.Form) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forms[form.ID]; ok {
		return storage.ErrDuplicate
	}
	for _, f := range s.forms {
		if f.Slug == form.Slug {
			return storage.ErrDuplicate
		}
	}
	s.forms[form.ID] = form
	return nil
}

func (s *Store) UpdateForm(_ context.Context, form storage.Form) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forms[form.ID]; !ok {
		return storage.ErrNotFound
	}
	for _, f := range s.forms {
		if f.ID != form.ID && f.Slug == form.Slug {
			return storage.ErrDuplicate
		}
	}
	s.forms[form.ID] = form
	return nil
}

func (s *Store) DeleteForm(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forms[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.forms, id)
	for rid, r := range s.responses {
		if r.FormID == id {
			delete(s.responses, rid)
			delete(s.history, rid)
		}
	}
	for cid, c := range s.comments {
		if c.FormID == id {
			delete(s.comments, cid)
		}
	}
	for sid, ss := range s.savedSearches {
		if ss.FormID == id {
			delete(s.savedSearches, sid)
		}
	}
	return nil
}

func (s *Store) GetForm(_ context.Context, id string) (storage.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.forms[id]
	if !ok {
		return storage.Form{}, storage.ErrNotFound
	}
	return f, nil
}

func (s *Store) GetFormBySlug(_ context.Context, slug string) (storage.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.forms {
		if f.Slug == slug {
			return f, nil
		}
	}
	return storage.Form{}, storage.ErrNotFound
}

func (s *Store) ListForms(_ context.Context, filter storage.FormFilter) ([]storage.Form, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.Form
	search := strings.ToLower(filter.Search)
	for _, f := range s.forms {
		if filter.CreatedBy != "" && f.CreatedBy != filter.CreatedBy {
			continue
		}
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(f.Title), search) &&
			!strings.Contains(strings.ToLower(f.Slug), search) {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	total := len(out)
	return paginate(out, filter.Page, filter.Limit), total, nil
}

// Responses

func (s *Store) InsertResponse(_ context.Context, resp storage.FormResponse, hist storage.ResponseHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.responses[resp.ID]; ok {
		return storage.ErrDuplicate
	}
	s.responses[resp.ID] = resp
	s.history[resp.ID] = append(s.history[resp.ID], hist)
	return nil
}

func (s *Store) UpdateResponse(_ context.Context, resp storage.FormResponse, hist storage.ResponseHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.responses[resp.ID]; !ok {
		return storage.ErrNotFound
	}
	s.responses[resp.ID] = resp
	s.history[resp.ID] = append(s.history[resp.ID], hist)
	return nil
}

func (s *Store) GetResponse(_ context.Context, id string) (storage.FormResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.responses[id]
	if !ok {
		return storage.FormResponse{}, storage.ErrNotFound
	}
	return r, nil
}

// cursor marks the last row of a page as (sort value, id). Resumption
// seeks past that pair instead of counting rows, so inserts and
// deletes between page fetches never skip or duplicate results.
type cursor struct {
	SortValue any    `json:"v"`
	LastID    string `json:"id"`
}

func decodeCursor(raw string) (*cursor, error) {
	if raw == "" {
		return nil, nil
	}
	data, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	var c cursor
	if err := json.Unmarshal(data, &c); err != nil || c.LastID == "" {
		return nil, fmt.Errorf("invalid cursor")
	}
	// Timestamps round-trip through JSON as RFC 3339 strings.
	if s, ok := c.SortValue.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			c.SortValue = t
		}
	}
	return &c, nil
}

func encodeCursor(last storage.FormResponse, field string) string {
	data, _ := json.Marshal(cursor{SortValue: responseFieldValue(last, field), LastID: last.ID})
	return base64.URLEncoding.EncodeToString(data)
}

// afterCursor reports whether r sorts strictly after the cursor
// position. Equal sort values fall back to the ascending id tiebreak,
// matching sortResponses.
func afterCursor(r storage.FormResponse, field string, desc bool, c *cursor) bool {
	rv := responseFieldValue(r, field)
	if valueEqual(rv, c.SortValue) {
		return r.ID > c.LastID
	}
	if desc {
		return valueLess(rv, c.SortValue)
	}
	return valueLess(c.SortValue, rv)
}

func (s *Store) matchingResponses(filter storage.ResponseFilter) []storage.FormResponse {
	var out []storage.FormResponse
	for _, r := range s.responses {
		if filter.FormID != "" && r.FormID != filter.FormID {
			continue
		}
		if filter.SubmittedBy != "" && r.SubmittedBy != filter.SubmittedBy {
			continue
		}
		if r.Deleted && !filter.IncludeDeleted {
			continue
		}
		if r.IsDraft && !filter.IncludeDrafts {
			continue
		}
		if filter.Filter != nil && !matchNode(*filter.Filter, r) {
			continue
		}
		out = append(out, r)
	}
	sortResponses(out, filter.SortField, filter.SortDesc)
	return out
}

func (s *Store) SearchResponses(_ context.Context, filter storage.ResponseFilter) ([]storage.FormResponse, string, error) {
	c, err := decodeCursor(filter.Cursor)
	if err != nil {
		return nil, "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	field, desc := filter.SortField, filter.SortDesc
	if field == "" {
		field, desc = "submitted_at", true
	}
	matched := s.matchingResponses(filter)
	if c != nil {
		kept := matched[:0]
		for _, r := range matched {
			if afterCursor(r, field, desc, c) {
				kept = append(kept, r)
			}
		}
		matched = kept
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(matched) == 0 {
		return []storage.FormResponse{}, "", nil
	}
	next := ""
	if len(matched) > limit {
		matched = matched[:limit]
		next = encodeCursor(matched[limit-1], field)
	}
	return matched, next, nil
}

func (s *Store) ListResponses(_ context.Context, filter storage.ResponseFilter) ([]storage.FormResponse, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.matchingResponses(filter)
	total := len(matched)
	return paginate(matched, filter.Page, filter.Limit), total, nil
}

func (s *Store) CountResponses(_ context.Context, filter storage.ResponseFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matchingResponses(filter)), nil
}

func (s *Store) ListHistory(_ context.Context, responseID string) ([]storage.ResponseHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := append([]storage.ResponseHistory(nil), s.history[responseID]...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Revision < entries[j].Revision })
	return entries, nil
}

func (s *Store) NextHistoryRevision(_ context.Context, responseID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for _, h := range s.history[responseID] {
		if h.Revision > max {
			max = h.Revision
		}
	}
	return max + 1, nil
}

// Analytics

func (s *Store) ResponseSummary(_ context.Context, formID string) (storage.ResponseSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary := storage.ResponseSummary{ByStatus: make(map[string]int)}
	for _, r := range s.responses {
		if r.FormID != formID || r.Deleted {
			continue
		}
		if r.IsDraft {
			summary.Drafts++
			continue
		}
		summary.Total++
		summary.ByStatus[string(r.Status)]++
		if summary.LastSubmittedAt == nil || r.SubmittedAt.After(*summary.LastSubmittedAt) {
			t := r.SubmittedAt
			summary.LastSubmittedAt = &t
		}
	}
	return summary, nil
}

func (s *Store) ResponseTimeline(_ context.Context, formID string, days int) ([]storage.TimelinePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	counts := make(map[string]int)
	for _, r := range s.responses {
		if r.FormID != formID || r.Deleted || r.IsDraft {
			continue
		}
		if r.SubmittedAt.Before(cutoff) {
			continue
		}
		counts[r.SubmittedAt.Format("2006-01-02")]++
	}
	dates := make([]string, 0, len(counts))
	for d := range counts {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	out := make([]storage.TimelinePoint, 0, len(dates))
	for _, d := range dates {
		out = append(out, storage.TimelinePoint{Date: d, Count: counts[d]})
	}
	return out, nil
}

// Comments

func (s *Store) CreateComment(_ context.Context, c storage.ResponseComment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comments[c.ID]; ok {
		return storage.ErrDuplicate
	}
	s.comments[c.ID] = c
	return nil
}

func (s *Store) ListComments(_ context.Context, responseID string) ([]storage.ResponseComment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.ResponseComment
	for _, c := range s.comments {
		if c.ResponseID == responseID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteComment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comments[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.comments, id)
	return nil
}

// Saved searches

func (s *Store) CreateSavedSearch(_ context.Context, ss storage.SavedSearch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.savedSearches[ss.ID]; ok {
		return storage.ErrDuplicate
	}
	s.savedSearches[ss.ID] = ss
	return nil
}

func (s *Store) ListSavedSearches(_ context.Context, userID, formID string) ([]storage.SavedSearch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.SavedSearch
	for _, ss := range s.savedSearches {
		if ss.UserID != userID {
			continue
		}
		if formID != "" && ss.FormID != formID {
			continue
		}
		out = append(out, ss)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteSavedSearch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.savedSearches[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.savedSearches, id)
	return nil
}

// Blocklist

func (s *Store) AddBlocklistEntry(_ context.Context, e storage.BlocklistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocklist[e.JTI] = e
	return nil
}

func (s *Store) IsBlocklisted(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.blocklist[jti]
	if !ok {
		return false, nil
	}
	return e.ExpiresAt.After(time.Now()), nil
}

// Workflows

func (s *Store) CreateWorkflow(_ context.Context, wf storage.FormWorkflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.ID]; ok {
		return storage.ErrDuplicate
	}
	s.workflows[wf.ID] = wf
	return nil
}

func (s *Store) UpdateWorkflow(_ context.Context, wf storage.FormWorkflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.ID]; !ok {
		return storage.ErrNotFound
	}
	s.workflows[wf.ID] = wf
	return nil
}

func (s *Store) DeleteWorkflow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.workflows, id)
	return nil
}

func (s *Store) GetWorkflow(_ context.Context, id string) (storage.FormWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return storage.FormWorkflow{}, storage.ErrNotFound
	}
	return wf, nil
}

func (s *Store) ListWorkflows(_ context.Context, filter storage.WorkflowFilter) ([]storage.FormWorkflow, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.FormWorkflow
	search := strings.ToLower(filter.Search)
	for _, wf := range s.workflows {
		if filter.TriggerFormID != "" && wf.TriggerFormID != filter.TriggerFormID {
			continue
		}
		if filter.ActiveOnly && !wf.IsActive {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(wf.Name), search) {
			continue
		}
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	total := len(out)
	return paginate(out, filter.Page, filter.Limit), total, nil
}

// Audit logs

func (s *Store) CreateAuditLog(_ context.Context, log storage.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, log)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, filter storage.AuditLogFilter) ([]storage.AuditLog, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.AuditLog
	for _, l := range s.auditLogs {
		if filter.Level != "" && l.Level != filter.Level {
			continue
		}
		if filter.Action != "" && l.Action != filter.Action {
			continue
		}
		if filter.EntityID != "" && l.EntityID != filter.EntityID {
			continue
		}
		if filter.EntityType != "" && l.EntityType != filter.EntityType {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	total := len(out)
	return paginate(out, filter.Page, filter.Limit), total, nil
}

// Helpers

func paginate[T any](items []T, page, limit int) []T {
	if limit <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// sortResponses orders by the requested field with the response id as
// tiebreaker so pagination is stable.
func sortResponses(items []storage.FormResponse, field string, desc bool) {
	if field == "" {
		field = "submitted_at"
		desc = true
	}
	sort.Slice(items, func(i, j int) bool {
		if responseEqual(items[i], items[j], field) {
			return items[i].ID < items[j].ID
		}
		less := responseLess(items[i], items[j], field)
		if desc {
			return !less
		}
		return less
	})
}

func responseFieldValue(r storage.FormResponse, field string) any {
	switch field {
	case "submitted_at":
		return r.SubmittedAt
	case "status":
		return string(r.Status)
	case "submitted_by":
		return r.SubmittedBy
	case "version":
		return r.Version
	default:
		flat := evaluator.Flatten(r.Data)
		return flat[field]
	}
}

func responseLess(a, b storage.FormResponse, field string) bool {
	return valueLess(responseFieldValue(a, field), responseFieldValue(b, field))
}

func responseEqual(a, b storage.FormResponse, field string) bool {
	return valueEqual(responseFieldValue(a, field), responseFieldValue(b, field))
}

func valueLess(av, bv any) bool {
	if at, ok := av.(time.Time); ok {
		if bt, ok := bv.(time.Time); ok {
			return at.Before(bt)
		}
	}
	if af, ok := evaluator.ToFloat64(av); ok {
		if bf, ok := evaluator.ToFloat64(bv); ok {
			return af < bf
		}
	}
	return fmt.Sprintf("%v", av) < fmt.Sprintf("%v", bv)
}

func valueEqual(a, b any) bool {
	return !valueLess(a, b) && !valueLess(b, a)
}

// matchNode evaluates a filter tree against one response. Leaf field
// ids address header fields or flattened answers.
func matchNode(node storage.FilterNode, r storage.FormResponse) bool {
	switch {
	case len(node.And) > 0:
		for _, child := range node.And {
			if !matchNode(child, r) {
				return false
			}
		}
		return true
	case len(node.Or) > 0:
		for _, child := range node.Or {
			if matchNode(child, r) {
				return true
			}
		}
		return false
	case node.Not != nil:
		return !matchNode(*node.Not, r)
	case node.DateRange != nil:
		val := responseFieldValue(r, node.FieldID)
		t, ok := asTime(val)
		if !ok {
			return false
		}
		if node.DateRange.From != nil && t.Before(*node.DateRange.From) {
			return false
		}
		if node.DateRange.To != nil && t.After(*node.DateRange.To) {
			return false
		}
		return true
	default:
		return matchLeaf(node, r)
	}
}

func asTime(val any) (time.Time, bool) {
	switch v := val.(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func matchLeaf(node storage.FilterNode, r storage.FormResponse) bool {
	val := responseFieldValue(r, node.FieldID)
	switch node.Op {
	case "eq", "":
		return looseEqual(val, node.Value)
	case "ne":
		return !looseEqual(val, node.Value)
	case "contains", "icontains":
		s, _ := val.(string)
		sub := fmt.Sprintf("%v", node.Value)
		if s != "" {
			return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
		}
		if list, ok := val.([]any); ok {
			for _, item := range list {
				if looseEqual(item, node.Value) {
					return true
				}
			}
		}
		return false
	case "in":
		list, ok := node.Value.([]any)
		if !ok {
			return false
		}
		for _, item := range list {
			if looseEqual(val, item) {
				return true
			}
		}
		return false
	case "exists":
		want := true
		if b, ok := node.Value.(bool); ok {
			want = b
		}
		return (val != nil) == want
	case "gt", "gte", "lt", "lte":
		af, aok := evaluator.ToFloat64(val)
		bf, bok := evaluator.ToFloat64(node.Value)
		if !aok || !bok {
			return false
		}
		switch node.Op {
		case "gt":
			return af > bf
		case "gte":
			return af >= bf
		case "lt":
			return af < bf
		default:
			return af <= bf
		}
	}
	return false
}

func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := evaluator.ToFloat64(a); ok {
		if bf, ok := evaluator.ToFloat64(b); ok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/user/formforge/internal/storage"
)

func seedResponses(t *testing.T, s *Store, formID string, n int) {
	t.Helper()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		resp := storage.FormResponse{
			ID:          fmt.Sprintf("r%03d", i),
			FormID:      formID,
			Version:     "v1",
			SubmittedBy: "u1",
			SubmittedAt: base.Add(time.Duration(i) * time.Hour),
			Status:      storage.StatusPending,
			Data: map[string]any{
				"sec": map[string]any{"q_n": float64(i), "q_cat": pick(i)},
			},
		}
		hist := storage.ResponseHistory{
			ID: "h" + resp.ID, ResponseID: resp.ID, FormID: formID,
			Revision: 1, ChangeType: storage.ChangeCreate, ChangedAt: resp.SubmittedAt,
		}
		if err := s.InsertResponse(context.Background(), resp, hist); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
}

func pick(i int) string {
	if i%2 == 0 {
		return "even"
	}
	return "odd"
}

func TestCursorPagination(t *testing.T) {
	s := New()
	seedResponses(t, s, "f1", 7)

	filter := storage.ResponseFilter{FormID: "f1", Limit: 3, SortField: "submitted_at"}
	seen := make(map[string]bool)
	pages := 0
	for {
		items, next, err := s.SearchResponses(context.Background(), filter)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		pages++
		for _, r := range items {
			if seen[r.ID] {
				t.Fatalf("response %s returned twice", r.ID)
			}
			seen[r.ID] = true
		}
		if next == "" {
			break
		}
		filter.Cursor = next
	}
	if pages != 3 || len(seen) != 7 {
		t.Errorf("pages = %d, seen = %d; want 3 pages covering 7 items", pages, len(seen))
	}
}

// A page cursor must stay correct when rows vanish between fetches:
// deleting an already-returned row shrinks the result set, and an
// offset-style cursor would silently skip the row that slid into its
// place.
func TestCursorSurvivesConcurrentDelete(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedResponses(t, s, "f1", 6)

	filter := storage.ResponseFilter{FormID: "f1", Limit: 3, SortField: "submitted_at"}
	page1, next, err := s.SearchResponses(ctx, filter)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page1) != 3 || next == "" {
		t.Fatalf("page 1 = %d items, cursor %q", len(page1), next)
	}

	// Soft-delete a row page 1 already returned.
	victim, _ := s.GetResponse(ctx, page1[0].ID)
	now := time.Now()
	victim.Deleted = true
	victim.DeletedAt = &now
	hist := storage.ResponseHistory{ID: "hdel", ResponseID: victim.ID, Revision: 2, ChangeType: storage.ChangeDelete, ChangedAt: now}
	if err := s.UpdateResponse(ctx, victim, hist); err != nil {
		t.Fatalf("delete: %v", err)
	}

	filter.Cursor = next
	page2, _, err := s.SearchResponses(ctx, filter)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}

	seen := make(map[string]bool)
	for _, r := range page1 {
		seen[r.ID] = true
	}
	for _, r := range page2 {
		if seen[r.ID] {
			t.Errorf("response %s returned twice", r.ID)
		}
		seen[r.ID] = true
	}
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("r%03d", i)
		if !seen[id] {
			t.Errorf("response %s skipped after concurrent delete", id)
		}
	}
}

// Cursors seek on ascending sorts too.
func TestCursorAscendingOrder(t *testing.T) {
	s := New()
	seedResponses(t, s, "f1", 5)

	filter := storage.ResponseFilter{FormID: "f1", Limit: 2, SortField: "submitted_at", SortDesc: false}
	var got []string
	for {
		items, next, err := s.SearchResponses(context.Background(), filter)
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range items {
			got = append(got, r.ID)
		}
		if next == "" {
			break
		}
		filter.Cursor = next
	}
	want := []string{"r000", "r001", "r002", "r003", "r004"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestInvalidCursorRejected(t *testing.T) {
	s := New()
	_, _, err := s.SearchResponses(context.Background(), storage.ResponseFilter{Cursor: "!!!not-base64"})
	if err == nil {
		t.Fatal("expected error for malformed cursor")
	}
}

func TestSoftDeleteExcluded(t *testing.T) {
	s := New()
	seedResponses(t, s, "f1", 4)

	r, _ := s.GetResponse(context.Background(), "r001")
	now := time.Now()
	r.Deleted = true
	r.DeletedAt = &now
	hist := storage.ResponseHistory{ID: "hd", ResponseID: r.ID, Revision: 2, ChangeType: storage.ChangeDelete, ChangedAt: now}
	if err := s.UpdateResponse(context.Background(), r, hist); err != nil {
		t.Fatalf("update: %v", err)
	}

	n, _ := s.CountResponses(context.Background(), storage.ResponseFilter{FormID: "f1"})
	if n != 3 {
		t.Errorf("count = %d, want 3 after soft delete", n)
	}
	n, _ = s.CountResponses(context.Background(), storage.ResponseFilter{FormID: "f1", IncludeDeleted: true})
	if n != 4 {
		t.Errorf("count with deleted = %d, want 4", n)
	}

	// GetResponse still returns the tombstone.
	got, err := s.GetResponse(context.Background(), "r001")
	if err != nil || !got.Deleted {
		t.Errorf("GetResponse after delete = %+v, %v", got, err)
	}
}

func TestFilterTree(t *testing.T) {
	s := New()
	seedResponses(t, s, "f1", 6)

	// q_cat == even AND q_n >= 2
	filter := &storage.FilterNode{
		And: []storage.FilterNode{
			{FieldID: "q_cat", Op: "eq", Value: "even"},
			{FieldID: "q_n", Op: "gte", Value: float64(2)},
		},
	}
	items, _, err := s.SearchResponses(context.Background(), storage.ResponseFilter{FormID: "f1", Filter: filter})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(items) != 2 { // q_n in {2, 4}
		t.Errorf("got %d items, want 2", len(items))
	}

	// NOT(q_cat == even)
	items, _, _ = s.SearchResponses(context.Background(), storage.ResponseFilter{
		FormID: "f1",
		Filter: &storage.FilterNode{Not: &storage.FilterNode{FieldID: "q_cat", Op: "eq", Value: "even"}},
	})
	if len(items) != 3 {
		t.Errorf("got %d items, want 3 odd", len(items))
	}

	// in operator
	items, _, _ = s.SearchResponses(context.Background(), storage.ResponseFilter{
		FormID: "f1",
		Filter: &storage.FilterNode{FieldID: "q_n", Op: "in", Value: []any{float64(0), float64(5)}},
	})
	if len(items) != 2 {
		t.Errorf("got %d items, want 2", len(items))
	}
}

func TestHistoryRevisions(t *testing.T) {
	s := New()
	seedResponses(t, s, "f1", 1)

	rev, _ := s.NextHistoryRevision(context.Background(), "r000")
	if rev != 2 {
		t.Errorf("next revision = %d, want 2", rev)
	}

	r, _ := s.GetResponse(context.Background(), "r000")
	hist := storage.ResponseHistory{ID: "h2", ResponseID: "r000", Revision: rev, ChangeType: storage.ChangeUpdate, ChangedAt: time.Now()}
	if err := s.UpdateResponse(context.Background(), r, hist); err != nil {
		t.Fatalf("update: %v", err)
	}
	entries, _ := s.ListHistory(context.Background(), "r000")
	if len(entries) != 2 || entries[0].Revision != 1 || entries[1].Revision != 2 {
		t.Errorf("history = %+v", entries)
	}
}

func TestFormSlugUnique(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.CreateForm(ctx, storage.Form{ID: "f1", Slug: "intake"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateForm(ctx, storage.Form{ID: "f2", Slug: "intake"}); err != storage.ErrDuplicate {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestDeleteFormCascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.CreateForm(ctx, storage.Form{ID: "f1", Slug: "intake"}); err != nil {
		t.Fatal(err)
	}
	seedResponses(t, s, "f1", 2)
	s.CreateComment(ctx, storage.ResponseComment{ID: "c1", ResponseID: "r000", FormID: "f1"})
	s.CreateSavedSearch(ctx, storage.SavedSearch{ID: "ss1", UserID: "u1", FormID: "f1"})

	if err := s.DeleteForm(ctx, "f1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetResponse(ctx, "r000"); err != storage.ErrNotFound {
		t.Error("responses should cascade")
	}
	comments, _ := s.ListComments(ctx, "r000")
	if len(comments) != 0 {
		t.Error("comments should cascade")
	}
	searches, _ := s.ListSavedSearches(ctx, "u1", "f1")
	if len(searches) != 0 {
		t.Error("saved searches should cascade")
	}
}

func TestUniqueSparseUserIdentifiers(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := storage.User{ID: "u1", Username: "alice", Email: "alice@x.dev"}
	b := storage.User{ID: "u2", Username: "bob", Email: "bob@x.dev"}
	if err := s.CreateUser(ctx, a); err != nil {
		t.Fatal(err)
	}
	// Two users without employee id or mobile are fine.
	if err := s.CreateUser(ctx, b); err != nil {
		t.Fatalf("sparse fields collided: %v", err)
	}

	c := storage.User{ID: "u3", Username: "carol", Email: "carol@x.dev", EmployeeID: "E1"}
	if err := s.CreateUser(ctx, c); err != nil {
		t.Fatal(err)
	}
	d := storage.User{ID: "u4", Username: "dave", Email: "dave@x.dev", EmployeeID: "E1"}
	if err := s.CreateUser(ctx, d); err != storage.ErrDuplicate {
		t.Errorf("expected ErrDuplicate for employee id, got %v", err)
	}
}

func TestResponseSummary(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedResponses(t, s, "f1", 3)

	// One approved, one draft.
	r, _ := s.GetResponse(ctx, "r000")
	r.Status = storage.StatusApproved
	s.UpdateResponse(ctx, r, storage.ResponseHistory{ID: "hx", ResponseID: r.ID, Revision: 2, ChangeType: storage.ChangeStatusChange})

	s.InsertResponse(ctx, storage.FormResponse{ID: "rd", FormID: "f1", IsDraft: true, SubmittedAt: time.Now()},
		storage.ResponseHistory{ID: "hdft", ResponseID: "rd", Revision: 1, ChangeType: storage.ChangeCreate})

	sum, err := s.ResponseSummary(ctx, "f1")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 3 || sum.Drafts != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.ByStatus["approved"] != 1 || sum.ByStatus["pending"] != 2 {
		t.Errorf("by_status = %v", sum.ByStatus)
	}
}

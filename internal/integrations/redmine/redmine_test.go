package redmine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"issuetriage/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := New(Options{BaseURL: server.URL + "/", APIKey: "key-test", PageSize: 100})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, payload any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Fatalf("encode payload: %v", err)
	}
}

func TestNewRequiresBaseURLAndKey(t *testing.T) {
	if _, err := New(Options{APIKey: "k"}); err == nil {
		t.Fatal("expected error without base URL")
	}
	if _, err := New(Options{BaseURL: "https://redmine.example.com"}); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestListProjects(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects.json" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Redmine-API-Key"); got != "key-test" {
			t.Fatalf("unexpected API key header: %q", got)
		}
		writeJSON(t, w, map[string]any{
			"projects": []map[string]any{
				{"id": 1, "name": "General", "description": "Catch-all"},
				{"id": 2, "name": " Billing "},
				{"id": 0, "name": "Broken"},
			},
		})
	})

	projects, err := client.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("expected 2 valid projects, got %d: %+v", len(projects), projects)
	}
	if projects[0].Description != "Catch-all" || projects[1].Description != "" {
		t.Fatalf("unexpected descriptions: %+v", projects)
	}
	if projects[1].Name != "Billing" {
		t.Fatalf("expected trimmed name, got %q", projects[1].Name)
	}
}

func TestListProjectsFailureIsTaxonomyUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	projects, err := client.ListProjects(context.Background())
	if !errors.Is(err, domain.ErrTaxonomyUnavailable) {
		t.Fatalf("expected ErrTaxonomyUnavailable, got %v", err)
	}
	if projects == nil || len(projects) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", projects)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected wrapped APIError 403, got %v", err)
	}
}

func TestListCategoriesCarriesOwner(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects/7/issue_categories.json" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		writeJSON(t, w, map[string]any{
			"issue_categories": []map[string]any{
				{"id": 11, "name": "Access", "assigned_to": map[string]any{"id": 5, "name": "Ayşe"}},
				{"id": 12, "name": "Billing"},
			},
		})
	})

	categories, err := client.ListCategories(context.Background(), 7)
	if err != nil {
		t.Fatalf("ListCategories failed: %v", err)
	}
	if len(categories) != 2 {
		t.Fatalf("expected 2 categories, got %d", len(categories))
	}
	if categories[0].OwnerID != 5 {
		t.Fatalf("expected owner 5, got %d", categories[0].OwnerID)
	}
	if categories[1].OwnerID != 0 {
		t.Fatalf("expected no owner, got %d", categories[1].OwnerID)
	}
}

func TestListCategoriesFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	categories, err := client.ListCategories(context.Background(), 3)
	if !errors.Is(err, domain.ErrTaxonomyUnavailable) {
		t.Fatalf("expected ErrTaxonomyUnavailable, got %v", err)
	}
	if len(categories) != 0 {
		t.Fatalf("expected no categories, got %d", len(categories))
	}
}

func TestGetTicket(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/issues/42.json":
			writeJSON(t, w, map[string]any{
				"issue": map[string]any{
					"id":          42,
					"subject":     "Cannot log in",
					"description": "password reset fails",
					"project":     map[string]any{"id": 1, "name": "General"},
					"category":    nil,
				},
			})
		case "/issues/43.json":
			writeJSON(t, w, map[string]any{
				"issue": map[string]any{
					"id":       43,
					"subject":  "Invoice wrong",
					"project":  map[string]any{"id": 2, "name": "Billing"},
					"category": map[string]any{"id": 9, "name": "Invoices"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	})

	ticket, err := client.GetTicket(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetTicket failed: %v", err)
	}
	if ticket.Subject != "Cannot log in" || ticket.Description != "password reset fails" {
		t.Fatalf("unexpected ticket text: %+v", ticket)
	}
	if ticket.Project.ID != 1 || ticket.Project.Name != "General" {
		t.Fatalf("unexpected project: %+v", ticket.Project)
	}
	if ticket.Categorized() {
		t.Fatal("ticket 42 must be uncategorized")
	}

	categorized, err := client.GetTicket(context.Background(), 43)
	if err != nil {
		t.Fatalf("GetTicket failed: %v", err)
	}
	if !categorized.Categorized() || categorized.Category.Name != "Invoices" {
		t.Fatalf("expected ticket 43 categorized, got %+v", categorized.Category)
	}
	if categorized.Description != "" {
		t.Fatalf("absent description must default to empty, got %q", categorized.Description)
	}

	_, err = client.GetTicket(context.Background(), 99)
	if !errors.Is(err, domain.ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}
}

func TestListAllTicketsPaginates(t *testing.T) {
	const total = 250
	requests := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/issues.json" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		requests++
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit != 100 {
			t.Fatalf("unexpected limit: %d", limit)
		}
		var issues []map[string]any
		for i := offset; i < offset+limit && i < total; i++ {
			issues = append(issues, map[string]any{
				"id":      i + 1,
				"subject": fmt.Sprintf("ticket %d", i+1),
				"project": map[string]any{"id": 1, "name": "General"},
			})
		}
		writeJSON(t, w, map[string]any{"issues": issues, "total_count": total, "offset": offset, "limit": limit})
	})
	var slept []time.Duration
	client.pageDelay = 500 * time.Millisecond
	client.sleep = func(d time.Duration) { slept = append(slept, d) }

	tickets, err := client.ListAllTickets(context.Background())
	if err != nil {
		t.Fatalf("ListAllTickets failed: %v", err)
	}
	if requests != 3 {
		t.Fatalf("expected 3 page requests, got %d", requests)
	}
	if len(tickets) != total {
		t.Fatalf("expected %d tickets, got %d", total, len(tickets))
	}
	if len(slept) != 2 {
		t.Fatalf("expected a delay between pages only (2), got %d", len(slept))
	}
	if tickets[0].ID != 1 || tickets[total-1].ID != total {
		t.Fatalf("unexpected ordering: first=%d last=%d", tickets[0].ID, tickets[total-1].ID)
	}
}

func TestListAllTicketsStopsOnEmptyPage(t *testing.T) {
	requests := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		writeJSON(t, w, map[string]any{"issues": []any{}, "total_count": 500})
	})
	tickets, err := client.ListAllTickets(context.Background())
	if err != nil {
		t.Fatalf("ListAllTickets failed: %v", err)
	}
	if requests != 1 || len(tickets) != 0 {
		t.Fatalf("expected a single request and no tickets, got requests=%d tickets=%d", requests, len(tickets))
	}
}

func TestLatestUncategorizedPicksLastOfFiltered(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"issues": []map[string]any{
				{"id": 5, "subject": "a", "project": map[string]any{"id": 1, "name": "General"}},
				{"id": 4, "subject": "b", "project": map[string]any{"id": 1, "name": "General"}},
				{"id": 3, "subject": "c", "project": map[string]any{"id": 1, "name": "General"}, "category": map[string]any{"id": 2, "name": "Bug"}},
			},
			"total_count": 3,
		})
	})

	ticket, ok, err := client.LatestUncategorized(context.Background())
	if err != nil {
		t.Fatalf("LatestUncategorized failed: %v", err)
	}
	if !ok || ticket.ID != 4 {
		t.Fatalf("expected ticket 4, got ok=%v id=%d", ok, ticket.ID)
	}
}

func TestLatestUncategorizedEmptyBacklog(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"issues": []map[string]any{
				{"id": 3, "subject": "c", "project": map[string]any{"id": 1, "name": "General"}, "category": map[string]any{"id": 2, "name": "Bug"}},
			},
			"total_count": 1,
		})
	})
	_, ok, err := client.LatestUncategorized(context.Background())
	if err != nil {
		t.Fatalf("LatestUncategorized failed: %v", err)
	}
	if ok {
		t.Fatal("expected empty backlog")
	}
}

func TestSetCategoryPayload(t *testing.T) {
	var bodies []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/issues/42.json" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(data))
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.SetCategory(context.Background(), 42, 11, 5); err != nil {
		t.Fatalf("SetCategory failed: %v", err)
	}
	if err := client.SetCategory(context.Background(), 42, 12, 0); err != nil {
		t.Fatalf("SetCategory without owner failed: %v", err)
	}
	if err := client.SetProject(context.Background(), 42, 3); err != nil {
		t.Fatalf("SetProject failed: %v", err)
	}

	want := []string{
		`{"issue":{"category_id":11,"assigned_to_id":5}}`,
		`{"issue":{"category_id":12}}`,
		`{"issue":{"project_id":3}}`,
	}
	for i, w := range want {
		if strings.TrimSpace(bodies[i]) != w {
			t.Fatalf("body %d = %s, want %s", i, bodies[i], w)
		}
	}
}

func TestUpdateRejected(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "validation failure", status: http.StatusUnprocessableEntity},
		{name: "accepted is not success", status: http.StatusAccepted},
		{name: "forbidden", status: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			err := client.SetProject(context.Background(), 1, 2)
			if !errors.Is(err, domain.ErrUpdateRejected) {
				t.Fatalf("expected ErrUpdateRejected, got %v", err)
			}
		})
	}
}

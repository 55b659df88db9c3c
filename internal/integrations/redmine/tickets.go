package redmine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"issuetriage/internal/domain"
)

type refJSON struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type issueJSON struct {
	ID          int64    `json:"id"`
	Subject     string   `json:"subject"`
	Description *string  `json:"description"`
	Project     *refJSON `json:"project"`
	Category    *refJSON `json:"category"`
	AssignedTo  *refJSON `json:"assigned_to"`
}

type issueResponse struct {
	Issue *issueJSON `json:"issue"`
}

type issuesResponse struct {
	Issues     []issueJSON `json:"issues"`
	TotalCount int         `json:"total_count"`
	Offset     int         `json:"offset"`
	Limit      int         `json:"limit"`
}

// TicketPage is one page of a ticket listing. Total is the tracker's count
// of all matching tickets, not of this page.
type TicketPage struct {
	Tickets []domain.Ticket
	Total   int
}

// toTicket validates a decoded issue at the boundary: an issue without an
// id or project is rejected, an absent description becomes "".
func (i issueJSON) toTicket() (domain.Ticket, error) {
	if i.ID <= 0 {
		return domain.Ticket{}, fmt.Errorf("issue has no id")
	}
	if i.Project == nil || i.Project.ID <= 0 {
		return domain.Ticket{}, fmt.Errorf("issue %d has no project", i.ID)
	}
	t := domain.Ticket{
		ID:      i.ID,
		Subject: strings.TrimSpace(i.Subject),
		Project: domain.Ref{ID: i.Project.ID, Name: i.Project.Name},
	}
	if i.Description != nil {
		t.Description = strings.TrimSpace(*i.Description)
	}
	if i.Category != nil && i.Category.ID > 0 {
		t.Category = &domain.Ref{ID: i.Category.ID, Name: i.Category.Name}
	}
	if i.AssignedTo != nil && i.AssignedTo.ID > 0 {
		t.AssignedTo = &domain.Ref{ID: i.AssignedTo.ID, Name: i.AssignedTo.Name}
	}
	return t, nil
}

func (c *Client) GetTicket(ctx context.Context, id int64) (domain.Ticket, error) {
	path := fmt.Sprintf("/issues/%d.json", id)
	var resp issueResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		if IsNotFound(err) {
			return domain.Ticket{}, fmt.Errorf("%w: #%d", domain.ErrTicketNotFound, id)
		}
		return domain.Ticket{}, fmt.Errorf("fetching ticket #%d: %w", id, err)
	}
	if resp.Issue == nil {
		return domain.Ticket{}, fmt.Errorf("fetching ticket #%d: response has no issue", id)
	}
	return resp.Issue.toTicket()
}

// ListTickets reads one page of the ticket listing.
func (c *Client) ListTickets(ctx context.Context, offset, limit int) (TicketPage, error) {
	path := fmt.Sprintf("/issues.json?offset=%d&limit=%d", offset, limit)
	var resp issuesResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return TicketPage{}, fmt.Errorf("listing tickets offset=%d: %w", offset, err)
	}

	page := TicketPage{Total: resp.TotalCount}
	for _, issue := range resp.Issues {
		t, err := issue.toTicket()
		if err != nil {
			log.Printf("redmine list-tickets skipped issue: %v", err)
			continue
		}
		page.Tickets = append(page.Tickets, t)
	}
	return page, nil
}

// ListAllTickets walks the whole listing with a fixed page size, pausing
// between pages. It stops at the first empty page or once the offset
// reaches the reported total.
func (c *Client) ListAllTickets(ctx context.Context) ([]domain.Ticket, error) {
	var all []domain.Ticket
	offset := 0
	pages := 0

	for {
		log.Printf("redmine list-tickets offset=%d limit=%d", offset, c.pageSize)
		page, err := c.ListTickets(ctx, offset, c.pageSize)
		if err != nil {
			return all, err
		}
		pages++
		if len(page.Tickets) == 0 {
			break
		}
		all = append(all, page.Tickets...)
		offset += c.pageSize
		if offset >= page.Total {
			break
		}
		if c.pageDelay > 0 {
			c.sleep(c.pageDelay)
		}
	}

	log.Printf("redmine list-tickets done pages=%d total=%d", pages, len(all))
	return all, nil
}

// Uncategorized reads one bounded page of the backlog and returns the
// tickets without a category, in listed order.
func (c *Client) Uncategorized(ctx context.Context) ([]domain.Ticket, error) {
	page, err := c.ListTickets(ctx, 0, c.backlogPageSize)
	if err != nil {
		return nil, err
	}
	var out []domain.Ticket
	for _, t := range page.Tickets {
		if !t.Categorized() {
			out = append(out, t)
		}
	}
	log.Printf("redmine backlog listed=%d uncategorized=%d", len(page.Tickets), len(out))
	return out, nil
}

// LatestUncategorized returns the last uncategorized ticket of the backlog
// page. ok is false when there is none.
func (c *Client) LatestUncategorized(ctx context.Context) (ticket domain.Ticket, ok bool, err error) {
	tickets, err := c.Uncategorized(ctx)
	if err != nil {
		return domain.Ticket{}, false, err
	}
	if len(tickets) == 0 {
		return domain.Ticket{}, false, nil
	}
	return tickets[len(tickets)-1], true, nil
}

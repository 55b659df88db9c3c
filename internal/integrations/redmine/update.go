package redmine

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"issuetriage/internal/domain"
)

type issueUpdate struct {
	ProjectID    int64 `json:"project_id,omitempty"`
	CategoryID   int64 `json:"category_id,omitempty"`
	AssignedToID int64 `json:"assigned_to_id,omitempty"`
}

type issueUpdateRequest struct {
	Issue issueUpdate `json:"issue"`
}

func (c *Client) SetProject(ctx context.Context, ticketID, projectID int64) error {
	return c.updateIssue(ctx, ticketID, issueUpdate{ProjectID: projectID})
}

// SetCategory sets the ticket's category and, when ownerID is non-zero,
// assigns the ticket to that user in the same request.
func (c *Client) SetCategory(ctx context.Context, ticketID, categoryID, ownerID int64) error {
	return c.updateIssue(ctx, ticketID, issueUpdate{CategoryID: categoryID, AssignedToID: ownerID})
}

// updateIssue sends a partial update. Only 200 and 204 count as accepted.
func (c *Client) updateIssue(ctx context.Context, ticketID int64, update issueUpdate) error {
	path := fmt.Sprintf("/issues/%d.json", ticketID)
	_, status, err := c.do(ctx, http.MethodPut, path, issueUpdateRequest{Issue: update})
	if err == nil && status != http.StatusOK && status != http.StatusNoContent {
		err = &APIError{Method: http.MethodPut, Path: path, StatusCode: status}
	}
	if err != nil {
		log.Printf("redmine update ticket=%d project=%d category=%d owner=%d error: %v",
			ticketID, update.ProjectID, update.CategoryID, update.AssignedToID, err)
		return fmt.Errorf("%w: ticket #%d: %w", domain.ErrUpdateRejected, ticketID, err)
	}
	log.Printf("redmine update ticket=%d project=%d category=%d owner=%d status=%d",
		ticketID, update.ProjectID, update.CategoryID, update.AssignedToID, status)
	return nil
}

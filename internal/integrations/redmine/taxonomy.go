package redmine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"issuetriage/internal/domain"
)

type projectsResponse struct {
	Projects []struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"projects"`
}

type categoriesResponse struct {
	IssueCategories []struct {
		ID         int64    `json:"id"`
		Name       string   `json:"name"`
		AssignedTo *refJSON `json:"assigned_to"`
	} `json:"issue_categories"`
}

// ListProjects returns the tracker's project taxonomy. Any failure yields an
// empty slice and an error wrapping domain.ErrTaxonomyUnavailable.
func (c *Client) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var resp projectsResponse
	if err := c.getJSON(ctx, "/projects.json", &resp); err != nil {
		log.Printf("redmine list-projects error: %v", err)
		return []domain.Project{}, fmt.Errorf("%w: projects: %w", domain.ErrTaxonomyUnavailable, err)
	}

	projects := make([]domain.Project, 0, len(resp.Projects))
	for _, p := range resp.Projects {
		name := strings.TrimSpace(p.Name)
		if p.ID <= 0 || name == "" {
			log.Printf("redmine list-projects skipped invalid project id=%d name=%q", p.ID, p.Name)
			continue
		}
		projects = append(projects, domain.Project{
			ID:          p.ID,
			Name:        name,
			Description: strings.TrimSpace(p.Description),
		})
	}
	log.Printf("redmine list-projects total=%d", len(projects))
	return projects, nil
}

// ListCategories returns the categories of one project, each with its
// default owner when the tracker has one configured.
func (c *Client) ListCategories(ctx context.Context, projectID int64) ([]domain.Category, error) {
	path := fmt.Sprintf("/projects/%d/issue_categories.json", projectID)
	var resp categoriesResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		log.Printf("redmine list-categories project=%d error: %v", projectID, err)
		return []domain.Category{}, fmt.Errorf("%w: categories of project %d: %w", domain.ErrTaxonomyUnavailable, projectID, err)
	}

	categories := make([]domain.Category, 0, len(resp.IssueCategories))
	for _, cat := range resp.IssueCategories {
		name := strings.TrimSpace(cat.Name)
		if cat.ID <= 0 || name == "" {
			log.Printf("redmine list-categories skipped invalid category id=%d name=%q", cat.ID, cat.Name)
			continue
		}
		category := domain.Category{ID: cat.ID, Name: name}
		if cat.AssignedTo != nil {
			category.OwnerID = cat.AssignedTo.ID
		}
		categories = append(categories, category)
	}
	log.Printf("redmine list-categories project=%d total=%d", projectID, len(categories))
	return categories, nil
}

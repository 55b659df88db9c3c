package triage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"issuetriage/internal/domain"
	"issuetriage/internal/integrations/llm"
)

// Tracker is the slice of the remote tracker the pipeline reads and mutates.
type Tracker interface {
	ListProjects(ctx context.Context) ([]domain.Project, error)
	ListCategories(ctx context.Context, projectID int64) ([]domain.Category, error)
	GetTicket(ctx context.Context, id int64) (domain.Ticket, error)
	Uncategorized(ctx context.Context) ([]domain.Ticket, error)
	SetProject(ctx context.Context, ticketID, projectID int64) error
	SetCategory(ctx context.Context, ticketID, categoryID, ownerID int64) error
}

type Inferencer interface {
	Infer(ctx context.Context, req llm.Request) (llm.Answer, error)
}

// Recorder persists the audit record of a finished run.
type Recorder interface {
	Record(rec domain.ClassificationRecord) error
}

// Notifier announces a finished run, e.g. to a chat channel.
type Notifier interface {
	Notify(ctx context.Context, rec domain.ClassificationRecord) error
}

type Options struct {
	// SkipProjectStage keeps every ticket in its current project and only
	// infers the category.
	SkipProjectStage bool
	// VerifyUpdates re-reads the ticket after a successful category update.
	VerifyUpdates bool

	Provider string
	Model    string

	Recorder Recorder
	Notifier Notifier
}

type Stage int

const (
	StageNone Stage = iota
	StageFetched
	StageProjectDone
	StageCategoryDone
	StageAlreadyClassified
	StageNoBacklog
)

func (s Stage) String() string {
	switch s {
	case StageFetched:
		return "fetched"
	case StageProjectDone:
		return "project_done"
	case StageCategoryDone:
		return "category_done"
	case StageAlreadyClassified:
		return "already_classified"
	case StageNoBacklog:
		return "no_backlog"
	default:
		return "none"
	}
}

// Result is the terminal state of one ticket's run. Stage is the last stage
// reached; Err is set when the run stopped short of StageCategoryDone.
type Result struct {
	TicketID      int64
	Subject       string
	Stage         Stage
	FromProjectID int64

	Project        domain.Project
	ProjectChanged bool
	// ProjectUpdateErr is a rejected project update. The run continues
	// against the intended project regardless.
	ProjectUpdateErr error

	Category domain.Category

	RawProjectAnswer  string
	RawCategoryAnswer string

	// Verified is set when VerifyUpdates is on and the re-read ticket shows
	// the new project and category.
	Verified bool

	Err error
}

func (r Result) Outcome() string {
	switch {
	case r.Err != nil:
		return domain.OutcomeFailed
	case r.Stage == StageCategoryDone:
		return domain.OutcomeClassified
	default:
		return domain.OutcomeSkipped
	}
}

// SweepResult summarizes a backlog sweep.
type SweepResult struct {
	Backlog    int
	Attempted  int
	Classified int
	Skipped    int
	Failed     int
	Results    []Result
}

type Pipeline struct {
	tracker    Tracker
	inferencer Inferencer
	opts       Options
	now        func() time.Time
}

func New(tracker Tracker, inferencer Inferencer, opts Options) *Pipeline {
	return &Pipeline{
		tracker:    tracker,
		inferencer: inferencer,
		opts:       opts,
		now:        time.Now,
	}
}

// ClassifyByID fetches the ticket fresh and classifies it. A ticket that
// already carries a category is left untouched.
func (p *Pipeline) ClassifyByID(ctx context.Context, id int64) (Result, error) {
	ticket, err := p.tracker.GetTicket(ctx, id)
	if err != nil {
		log.Printf("triage fetch ticket=%d error=%v", id, err)
		return p.finish(ctx, Result{TicketID: id, Err: fmt.Errorf("fetching ticket %d: %w", id, err)})
	}
	return p.Classify(ctx, ticket)
}

// Classify runs the two-stage pipeline on a ticket snapshot: project first,
// then category within the resolved project. Mutations are not rolled back
// when a later stage fails.
func (p *Pipeline) Classify(ctx context.Context, ticket domain.Ticket) (Result, error) {
	res := Result{
		TicketID:      ticket.ID,
		Subject:       ticket.Subject,
		Stage:         StageFetched,
		FromProjectID: ticket.Project.ID,
	}
	log.Printf("triage fetched ticket=%d project=%q subject=%q", ticket.ID, ticket.Project.Name, ticket.Subject)

	if ticket.Categorized() {
		res.Stage = StageAlreadyClassified
		res.Category = domain.Category{ID: ticket.Category.ID, Name: ticket.Category.Name}
		log.Printf("triage ticket=%d already classified category=%q, skipping", ticket.ID, ticket.Category.Name)
		return p.finish(ctx, res)
	}

	project, err := p.projectStage(ctx, ticket, &res)
	if err != nil {
		res.Err = err
		return p.finish(ctx, res)
	}
	res.Stage = StageProjectDone

	if err := p.categoryStage(ctx, ticket, project, &res); err != nil {
		res.Err = err
		return p.finish(ctx, res)
	}
	res.Stage = StageCategoryDone

	if p.opts.VerifyUpdates {
		p.verify(ctx, &res)
	}
	return p.finish(ctx, res)
}

func (p *Pipeline) projectStage(ctx context.Context, ticket domain.Ticket, res *Result) (domain.Project, error) {
	projects, err := p.tracker.ListProjects(ctx)
	if err != nil {
		log.Printf("triage project-stage ticket=%d error=%v", ticket.ID, err)
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, fmt.Errorf("%w: no projects", domain.ErrTaxonomyUnavailable)
	}

	var project domain.Project
	switch {
	case len(projects) == 1:
		project = projects[0]
		log.Printf("triage project-stage ticket=%d single project=%q, no inference", ticket.ID, project.Name)
	case p.opts.SkipProjectStage:
		project = currentProject(ticket, projects)
		log.Printf("triage project-stage ticket=%d skipped, keeping project=%q", ticket.ID, project.Name)
	default:
		candidates := make([]llm.Candidate, 0, len(projects))
		for _, pr := range projects {
			candidates = append(candidates, llm.Candidate{Name: pr.Name, Description: pr.Description})
		}
		answer, err := p.inferencer.Infer(ctx, llm.Request{
			Title:       ticket.Subject,
			Description: ticket.Description,
			Candidates:  candidates,
			RoleNoun:    "project",
		})
		if err != nil {
			log.Printf("triage project-stage ticket=%d error=%v", ticket.ID, err)
			return domain.Project{}, err
		}
		res.RawProjectAnswer = answer.Raw
		log.Printf("triage project-stage ticket=%d raw=%q label=%q", ticket.ID, answer.Raw, answer.Label)

		matched, ok := Match(answer.Label, projects, func(pr domain.Project) string { return pr.Name })
		if !ok {
			log.Printf("triage project-stage ticket=%d unresolved label=%q", ticket.ID, answer.Label)
			return domain.Project{}, fmt.Errorf("%w: project %q", domain.ErrUnresolvedLabel, answer.Label)
		}
		project = matched
		log.Printf("triage project-stage ticket=%d matched project=%q id=%d", ticket.ID, project.Name, project.ID)
	}
	res.Project = project

	if project.ID != ticket.Project.ID {
		res.ProjectChanged = true
		if err := p.tracker.SetProject(ctx, ticket.ID, project.ID); err != nil {
			res.ProjectUpdateErr = err
			log.Printf("triage project-stage ticket=%d update failed, continuing with project=%d: %v", ticket.ID, project.ID, err)
		}
	}
	return project, nil
}

// currentProject finds the ticket's project in the taxonomy, falling back to
// the reference embedded in the ticket.
func currentProject(ticket domain.Ticket, projects []domain.Project) domain.Project {
	for _, pr := range projects {
		if pr.ID == ticket.Project.ID {
			return pr
		}
	}
	return domain.Project{ID: ticket.Project.ID, Name: ticket.Project.Name}
}

func (p *Pipeline) categoryStage(ctx context.Context, ticket domain.Ticket, project domain.Project, res *Result) error {
	categories, err := p.tracker.ListCategories(ctx, project.ID)
	if err != nil {
		log.Printf("triage category-stage ticket=%d project=%d error=%v", ticket.ID, project.ID, err)
		return err
	}
	if len(categories) == 0 {
		return fmt.Errorf("%w: project %d has no categories", domain.ErrTaxonomyUnavailable, project.ID)
	}

	candidates := make([]llm.Candidate, 0, len(categories))
	for _, c := range categories {
		candidates = append(candidates, llm.Candidate{Name: c.Name})
	}
	answer, err := p.inferencer.Infer(ctx, llm.Request{
		Title:       ticket.Subject,
		Description: ticket.Description,
		Candidates:  candidates,
		RoleNoun:    "category",
	})
	if err != nil {
		log.Printf("triage category-stage ticket=%d error=%v", ticket.ID, err)
		return err
	}
	res.RawCategoryAnswer = answer.Raw
	log.Printf("triage category-stage ticket=%d raw=%q label=%q", ticket.ID, answer.Raw, answer.Label)

	category, ok := Match(answer.Label, categories, func(c domain.Category) string { return c.Name })
	if !ok {
		log.Printf("triage category-stage ticket=%d unresolved label=%q", ticket.ID, answer.Label)
		return fmt.Errorf("%w: category %q", domain.ErrUnresolvedLabel, answer.Label)
	}
	res.Category = category
	log.Printf("triage category-stage ticket=%d matched category=%q id=%d owner=%d", ticket.ID, category.Name, category.ID, category.OwnerID)

	return p.tracker.SetCategory(ctx, ticket.ID, category.ID, category.OwnerID)
}

// verify re-reads the ticket and logs whether the updates took effect. It
// never changes the outcome of the run.
func (p *Pipeline) verify(ctx context.Context, res *Result) {
	ticket, err := p.tracker.GetTicket(ctx, res.TicketID)
	if err != nil {
		log.Printf("triage verify ticket=%d error=%v", res.TicketID, err)
		return
	}
	categoryOK := ticket.Category != nil && ticket.Category.ID == res.Category.ID
	projectOK := ticket.Project.ID == res.Project.ID
	res.Verified = categoryOK && projectOK
	log.Printf("triage verify ticket=%d project_ok=%t category_ok=%t", res.TicketID, projectOK, categoryOK)
}

// Sweep classifies up to limit tickets from the uncategorized backlog,
// newest-listed first. A failed ticket is counted and the sweep moves on.
// The returned error is reserved for failing to read the backlog itself or
// cancellation.
func (p *Pipeline) Sweep(ctx context.Context, limit int) (SweepResult, error) {
	if limit < 1 {
		limit = 1
	}
	backlog, err := p.tracker.Uncategorized(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("listing backlog: %w", err)
	}

	sweep := SweepResult{Backlog: len(backlog)}
	if len(backlog) == 0 {
		log.Printf("triage sweep: no uncategorized tickets")
		sweep.Results = append(sweep.Results, Result{Stage: StageNoBacklog})
		return sweep, nil
	}
	log.Printf("triage sweep backlog=%d limit=%d", len(backlog), limit)

	for i := len(backlog) - 1; i >= 0 && sweep.Attempted < limit; i-- {
		if err := ctx.Err(); err != nil {
			return sweep, err
		}
		res, _ := p.ClassifyByID(ctx, backlog[i].ID)
		sweep.Attempted++
		sweep.Results = append(sweep.Results, res)
		switch res.Outcome() {
		case domain.OutcomeClassified:
			sweep.Classified++
		case domain.OutcomeFailed:
			sweep.Failed++
		default:
			sweep.Skipped++
		}
	}
	log.Printf("triage sweep done attempted=%d classified=%d skipped=%d failed=%d",
		sweep.Attempted, sweep.Classified, sweep.Skipped, sweep.Failed)
	return sweep, nil
}

// Record converts a result into its audit form.
func (r Result) Record(provider, model string, at time.Time) domain.ClassificationRecord {
	rec := domain.ClassificationRecord{
		TicketID:          r.TicketID,
		TicketSubject:     r.Subject,
		Stage:             r.Stage.String(),
		Outcome:           r.Outcome(),
		FromProjectID:     r.FromProjectID,
		ProjectID:         r.Project.ID,
		ProjectName:       r.Project.Name,
		ProjectChanged:    r.ProjectChanged,
		CategoryID:        r.Category.ID,
		CategoryName:      r.Category.Name,
		OwnerID:           r.Category.OwnerID,
		RawProjectAnswer:  r.RawProjectAnswer,
		RawCategoryAnswer: r.RawCategoryAnswer,
		LLMProvider:       provider,
		LLMModel:          model,
		ClassifiedAt:      at,
	}
	var errs []error
	if r.ProjectUpdateErr != nil {
		errs = append(errs, fmt.Errorf("project update: %w", r.ProjectUpdateErr))
	}
	if r.Err != nil {
		errs = append(errs, r.Err)
	}
	if err := errors.Join(errs...); err != nil {
		rec.Error = err.Error()
	}
	return rec
}

func (p *Pipeline) finish(ctx context.Context, res Result) (Result, error) {
	if res.Err != nil {
		log.Printf("triage ticket=%d failed stage=%s: %v", res.TicketID, res.Stage, res.Err)
	} else if res.Stage == StageCategoryDone {
		log.Printf("triage ticket=%d classified project=%q category=%q", res.TicketID, res.Project.Name, res.Category.Name)
	}

	rec := res.Record(p.opts.Provider, p.opts.Model, p.now().UTC())
	if p.opts.Recorder != nil {
		if err := p.opts.Recorder.Record(rec); err != nil {
			log.Printf("triage record ticket=%d error=%v", res.TicketID, err)
		}
	}
	if p.opts.Notifier != nil && rec.Outcome != domain.OutcomeSkipped {
		if err := p.opts.Notifier.Notify(ctx, rec); err != nil {
			log.Printf("triage notify ticket=%d error=%v", res.TicketID, err)
		}
	}
	return res, res.Err
}

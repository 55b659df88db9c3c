package sqlite

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"issuetriage/internal/domain"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS classification_runs (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		ticket_id           INTEGER NOT NULL,
		ticket_subject      TEXT DEFAULT '',
		stage               TEXT NOT NULL,
		outcome             TEXT NOT NULL,
		from_project_id     INTEGER DEFAULT 0,
		project_id          INTEGER DEFAULT 0,
		project_name        TEXT DEFAULT '',
		project_changed     INTEGER DEFAULT 0,
		category_id         INTEGER DEFAULT 0,
		category_name       TEXT DEFAULT '',
		owner_id            INTEGER DEFAULT 0,
		raw_project_answer  TEXT DEFAULT '',
		raw_category_answer TEXT DEFAULT '',
		error               TEXT DEFAULT '',
		llm_provider        TEXT DEFAULT '',
		llm_model           TEXT DEFAULT '',
		classified_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_ticket ON classification_runs(ticket_id);
	CREATE INDEX IF NOT EXISTS idx_runs_date ON classification_runs(classified_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func InsertRun(db *sql.DB, r domain.ClassificationRecord) (int64, error) {
	if r.ClassifiedAt.IsZero() {
		r.ClassifiedAt = time.Now().UTC()
	}
	res, err := db.Exec(
		`INSERT INTO classification_runs
		 (ticket_id, ticket_subject, stage, outcome, from_project_id, project_id, project_name, project_changed,
		  category_id, category_name, owner_id, raw_project_answer, raw_category_answer, error,
		  llm_provider, llm_model, classified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TicketID, r.TicketSubject, r.Stage, r.Outcome, r.FromProjectID, r.ProjectID, r.ProjectName, r.ProjectChanged,
		r.CategoryID, r.CategoryName, r.OwnerID, r.RawProjectAnswer, r.RawCategoryAnswer, r.Error,
		r.LLMProvider, r.LLMModel, r.ClassifiedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const runColumns = `id, ticket_id, ticket_subject, stage, outcome, from_project_id, project_id, project_name, project_changed,
		        category_id, category_name, owner_id, raw_project_answer, raw_category_answer, error,
		        llm_provider, llm_model, classified_at`

func scanRun(scanner interface{ Scan(...any) error }) (domain.ClassificationRecord, error) {
	var r domain.ClassificationRecord
	err := scanner.Scan(
		&r.ID, &r.TicketID, &r.TicketSubject, &r.Stage, &r.Outcome, &r.FromProjectID, &r.ProjectID, &r.ProjectName, &r.ProjectChanged,
		&r.CategoryID, &r.CategoryName, &r.OwnerID, &r.RawProjectAnswer, &r.RawCategoryAnswer, &r.Error,
		&r.LLMProvider, &r.LLMModel, &r.ClassifiedAt,
	)
	return r, err
}

// RecentRuns returns up to limit runs, newest first.
func RecentRuns(db *sql.DB, limit int) ([]domain.ClassificationRecord, error) {
	rows, err := db.Query(
		`SELECT `+runColumns+`
		 FROM classification_runs
		 ORDER BY classified_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.ClassificationRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func GetLatestRun(db *sql.DB, ticketID int64) (domain.ClassificationRecord, error) {
	row := db.QueryRow(
		`SELECT `+runColumns+`
		 FROM classification_runs
		 WHERE ticket_id = ?
		 ORDER BY classified_at DESC, id DESC LIMIT 1`,
		ticketID,
	)
	return scanRun(row)
}

type RunStats struct {
	Total          int
	Classified     int
	Skipped        int
	Failed         int
	ProjectChanges int
}

func GetRunStats(db *sql.DB, since time.Time) (RunStats, error) {
	var s RunStats
	err := db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(project_changed), 0)
		 FROM classification_runs WHERE classified_at >= ?`,
		domain.OutcomeClassified, domain.OutcomeSkipped, domain.OutcomeFailed, since,
	).Scan(&s.Total, &s.Classified, &s.Skipped, &s.Failed, &s.ProjectChanges)
	return s, err
}

// Recorder writes pipeline runs to the audit table.
type Recorder struct {
	DB *sql.DB
}

func (r Recorder) Record(rec domain.ClassificationRecord) error {
	_, err := InsertRun(r.DB, rec)
	return err
}

package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"issuetriage/internal/domain"
)

// LabelColumn selects what goes into the dataset's label column.
type LabelColumn string

const (
	LabelProject  LabelColumn = "project"
	LabelCategory LabelColumn = "category"
)

func ParseLabelColumn(s string) (LabelColumn, error) {
	switch LabelColumn(strings.ToLower(strings.TrimSpace(s))) {
	case "", LabelProject:
		return LabelProject, nil
	case LabelCategory:
		return LabelCategory, nil
	default:
		return "", fmt.Errorf("unknown export label %q (want project or category)", s)
	}
}

// TicketLister walks every ticket in the tracker.
type TicketLister interface {
	ListAllTickets(ctx context.Context) ([]domain.Ticket, error)
}

// utf8BOM lets spreadsheet tools detect the encoding.
const utf8BOM = "\ufeff"

// WriteDataset writes a two-column training dataset (text,label). Text is
// the subject and description separated by a blank line. With
// LabelCategory, uncategorized tickets are left out. It returns the number
// of rows written.
func WriteDataset(w io.Writer, tickets []domain.Ticket, label LabelColumn) (int, error) {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return 0, err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"text", "label"}); err != nil {
		return 0, err
	}

	rows := 0
	for _, t := range tickets {
		var value string
		switch label {
		case LabelCategory:
			if !t.Categorized() {
				continue
			}
			value = t.Category.Name
		default:
			value = t.Project.Name
		}
		text := t.Subject + "\n\n" + t.Description
		if err := cw.Write([]string{text, value}); err != nil {
			return rows, err
		}
		rows++
	}
	cw.Flush()
	return rows, cw.Error()
}

// ExportFile lists every ticket and writes the dataset to path.
func ExportFile(ctx context.Context, lister TicketLister, path string, label LabelColumn) (int, error) {
	tickets, err := lister.ListAllTickets(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing tickets: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	rows, err := WriteDataset(bw, tickets, label)
	if err == nil {
		err = bw.Flush()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return rows, fmt.Errorf("writing %s: %w", path, err)
	}
	log.Printf("export wrote path=%s rows=%d label=%s", path, rows, label)
	return rows, nil
}

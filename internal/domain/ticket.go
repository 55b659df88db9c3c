package domain

// Ref is a tracker reference to another record, as embedded in ticket
// payloads ({"id": 1, "name": "General"}).
type Ref struct {
	ID   int64
	Name string
}

type Ticket struct {
	ID          int64
	Subject     string
	Description string
	Project     Ref
	Category    *Ref // nil means uncategorized
	AssignedTo  *Ref
}

// Categorized reports whether the ticket already carries a category and
// must be left alone by the pipeline.
func (t Ticket) Categorized() bool {
	return t.Category != nil && t.Category.ID != 0
}

type Project struct {
	ID          int64
	Name        string
	Description string
}

type Category struct {
	ID      int64
	Name    string
	OwnerID int64 // default assignee, 0 when the category has none
}

package domain

import "time"

// Status is the workflow state of a task.
type Status string

const (
	StatusTodo  Status = "todo"
	StatusDoing Status = "doing"
	StatusDone  Status = "done"
)

const (
	MinPriority     = 1
	MaxPriority     = 5
	DefaultPriority = 3
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusDoing, StatusDone:
		return true
	}
	return false
}

// Rank orders statuses by workflow progress.
func (s Status) Rank() int {
	switch s {
	case StatusTodo:
		return 0
	case StatusDoing:
		return 1
	case StatusDone:
		return 2
	}
	return 3
}

// Task is a single item inside a list.
type Task struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	ListID      string     `json:"listId"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Status      Status     `json:"status"`
	Priority    int        `json:"priority"`
	Tags        []string   `json:"tags"`
	DueDate     *time.Time `json:"dueDate"`
	Position    float64    `json:"position"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`

	Version string `json:"-"`
}

// HasTag reports whether the task carries tag.
func (t Task) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if have == tag {
			return true
		}
	}
	return false
}

// TaskInput holds the fields accepted when creating a task.
type TaskInput struct {
	Title       string
	Description *string
	Priority    *int
	Tags        []string
	DueDate     *time.Time
}

// TaskPatch carries editable task fields. A nil pointer leaves the field
// untouched; ClearDescription and ClearDueDate null the field out.
type TaskPatch struct {
	Title            *string
	Description      *string
	ClearDescription bool
	Status           *Status
	Priority         *int
	Tags             *[]string
	DueDate          *time.Time
	ClearDueDate     bool
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && !p.ClearDescription &&
		p.Status == nil && p.Priority == nil && p.Tags == nil &&
		p.DueDate == nil && !p.ClearDueDate
}

// Apply copies the patch onto t.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.ClearDescription {
		t.Description = nil
	} else if p.Description != nil {
		d := *p.Description
		t.Description = &d
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Tags != nil {
		t.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.ClearDueDate {
		t.DueDate = nil
	} else if p.DueDate != nil {
		d := *p.DueDate
		t.DueDate = &d
	}
}

package domain

const (
	ListCreated    = "list-created"
	ListUpdated    = "list-updated"
	ListDeleted    = "list-deleted"
	ListsReordered = "lists-reordered"
	TaskCreated    = "task-created"
	TaskUpdated    = "task-updated"
	TaskDeleted    = "task-deleted"
	TaskMoved      = "task-moved"
	TasksReordered = "tasks-reordered"
)

// Event describes a committed change.
type Event struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	UserID     string `json:"userId"`
	ListID     string `json:"listId,omitempty"`
	Rebalanced bool   `json:"rebalanced,omitempty"`
	Time       int64  `json:"time"`
}

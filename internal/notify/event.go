package notify

// Resource names the table a change event belongs to.
type Resource string

const (
	ResourceSessions     Resource = "sessions"
	ResourceParticipants Resource = "participants"
	ResourceBalances     Resource = "balances"
	ResourceTransactions Resource = "transactions"
)

// Kind is the mutation type carried by an event.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Event is one row-level change notification. Row carries the new row image
// for inserts and updates; deletes carry only RowID. Events for a given row
// are published in commit order, but no ordering is guaranteed across rows.
type Event struct {
	Resource  Resource `json:"resource"`
	Kind      Kind     `json:"kind"`
	SessionID string   `json:"session_id"`
	RowID     string   `json:"row_id"`
	Row       any      `json:"row,omitempty"`
}

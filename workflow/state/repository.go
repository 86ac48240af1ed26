package state

import "context"

// Repository is the durable storage of workflow sessions.
// Load and LoadSnapshot return a types.ErrNotFound error when nothing is
// stored; LoadHistory returns an empty slice instead.
type Repository interface {
	// Save persists the current state and appends it to the session history.
	Save(ctx context.Context, st *WorkflowState) error
	// Load returns the latest persisted state of a session.
	Load(ctx context.Context, sessionID string) (*WorkflowState, error)
	// SaveSnapshot writes a point-in-time copy of st.
	SaveSnapshot(ctx context.Context, st *WorkflowState) error
	// LoadSnapshot returns the most recent snapshot of a session.
	LoadSnapshot(ctx context.Context, sessionID string) (*WorkflowState, error)
	// LoadHistory returns every recorded state of a session, oldest first.
	LoadHistory(ctx context.Context, sessionID string) ([]*WorkflowState, error)
	// ListSessions returns index entries matching filter, newest first.
	ListSessions(ctx context.Context, filter SessionFilter) ([]SessionSummary, error)
}

package tools

import "context"

// workflowContextKey is the context key for the calling step's workflow context.
type workflowContextKey struct{}

// WithWorkflowContext stores the workflow context a tool is invoked with.
func WithWorkflowContext(ctx context.Context, wfctx map[string]any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, workflowContextKey{}, wfctx)
}

// WorkflowContext returns the workflow context stored by WithWorkflowContext.
func WorkflowContext(ctx context.Context) (map[string]any, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(workflowContextKey{}).(map[string]any)
	return v, ok
}

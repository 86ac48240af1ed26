// Package tools provides the tool registry consumed by the workflow engine.
//
// A Tool exposes a descriptor (name, description, JSON Schema parameters) and
// an invocation function. The workflow context of the step that triggered the
// call travels through context.Context; see WithWorkflowContext.
// Middleware such as caching, retry and rate limiting is expected to wrap
// ToolFunc values before they are registered.
package tools

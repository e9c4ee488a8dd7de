package shared

import "google.golang.org/adk/tool"

// Handler is the typed function behind a tool. Argument schemas are inferred
// from A, so its fields carry json and jsonschema tags.
type Handler[A, R any] func(ctx tool.Context, args A) (R, error)

// Package agentstream defines the unified event vocabulary every backend
// family is normalized into, plus the bookkeeping the normalizers share.
//
// # Vocabulary
//
// Event is a closed set: only the types declared in this package implement
// it. Each variant has a stable wire name (Type) used when the event is
// serialized inside an Envelope:
//
//	{"sessionId":"…","turnId":"…","type":"tool-started","toolUseId":"t1",…}
//
// Tool variants share a toolUseId that joins start, status changes and end
// even when the backend reports them through different message shapes.
//
// # Normalizer helpers
//
//   - ToolTracker enforces the tool status path
//     pending → (awaiting-permission) → running → terminal, and drops every
//     end signal after the first for a given tool-use id.
//   - UsageMeter suppresses token-usage reports whose total would move
//     backwards.
//   - Batch buffers text deltas and flushes them ahead of any other event so
//     a transcript never shows a tool event before the text that preceded it.
//
// None of the helpers are safe for concurrent use; the session serializes
// access to a normalizer.
//
// # Schema
//
// Schema returns a JSON Schema describing every event variant, generated
// from the Go types with invopop/jsonschema.
package agentstream

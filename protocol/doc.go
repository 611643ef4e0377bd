// Package protocol implements the Claude CLI stream-json wire format: the
// messages the CLI writes on stdout, the lines a client writes on stdin, and
// the control sub-protocol used for hook callbacks and permission requests.
//
// Every line is one JSON object discriminated by its "type" field. Decode
// turns a line into a typed Message; the New* constructors build outbound
// lines whose Marshal method yields the bytes to write.
package protocol

// Package mcp implements a JSON-RPC 2.0 server that exposes developer tools to a single client,
// in the manner of the Model Context Protocol.
//
// Messages are framed one per line and decoded by the codec in this package. A Server reads the
// lines of every Session a ServerTransport yields and dispatches them strictly in order: the
// response to a request is written before the next line is read. Each session carries its own
// Lifecycle (uninitialized, initialized, shutting down, terminated) that decides which methods
// are accepted.
//
// Tools are registered in a ToolRegistry with NewTool. Their input schema is reflected from a Go
// struct, and arguments are validated before the tool runs. Problems that belong to the tool
// domain (unknown tool, invalid arguments, denied paths, failed I/O) are returned as text content
// in a successful response, while protocol problems (malformed messages, unknown methods, calls in
// the wrong lifecycle state) are returned as JSON-RPC errors.
//
// Two transports are provided: StdIO for line-delimited standard streams, and SSEServer, which
// pairs a server-sent events stream for outbound messages with a POST endpoint for inbound ones.
package mcp

// Package mcp exposes the dispatcher as a single MCP tool named taskmaster.
//
// The tool takes the flat request payload and returns the response envelope
// both as structured content and as JSON text. Rejected commands are tool
// errors (IsError) carrying the same envelope, never protocol errors.
package mcp

// Package mcp exposes panorama's tool catalog to external agents over the
// Model Context Protocol.
//
// # Transports
//
// Two servers share one Surface:
//
//   - Server: Streamable HTTP at /mcp. initialize creates a session whose id is
//     returned in the Mcp-Session-Id header; later requests must send it.
//     DELETE /mcp ends a session and must carry the credential that opened it.
//   - NewMCPServer / ServeStdio: an mcp-go server on stdin/stdout for a single
//     local agent.
//
// # Authentication
//
// HTTP callers authenticate with one of:
//
//	/mcp/<token>               URL token from the TokenStore
//	/mcp?token=<token>         same, as a query parameter
//	Authorization: Bearer JWT  HS256 token with a "caps" claim
//
// A credential that is present but invalid is rejected. Without credentials
// the session gets Config.DefaultCaps unless RequireAuth is set.
//
// # Capabilities
//
// "read" grants read-only tools. "write" grants every tool. tools/list only
// shows tools the session may call, and each listed tool carries readOnlyHint.
//
// # Execution
//
// Calls run through the tool middleware with source "mcp", so they share the
// loop guard and the audit log with orchestrated calls. Missing arguments and
// handler failures are returned as isError results; unknown tools and missing
// capabilities are JSON-RPC errors.
package mcp

// Package gateway owns every long-lived panorama component.
//
// New opens the SQLite store, seeds the servers named in configuration, registers
// the workspace tool pack and starts the audit retention loop. The same Gateway
// backs every command: the HTTP server (Run), stdio exposure through Surface, and
// one-shot plan execution through Orchestrator.
//
// # HTTP
//
//	GET  /health        liveness, always "OK"
//	GET  /health/ready  200 once at least one tool is registered
//	POST /mcp           Streamable HTTP MCP endpoint (see package mcp)
//	POST /mcp/<token>   same, authenticated by a URL token from MintURLToken
//
// # External tools
//
// LoadExternalTools connects to each enabled server and registers its tools as a
// pack named "server:<id>", with tool names namespaced as "<id>__<tool>". Servers
// that cannot be reached are logged and skipped.
//
// # Shutdown
//
// Run blocks until its context ends, then shuts the HTTP server down with a five
// second budget and calls Close, which drains the audit queue before closing the
// store.
package gateway

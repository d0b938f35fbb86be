// Package mcpclient calls tools on external servers speaking JSON-RPC 2.0 over a
// subprocess pipe or HTTP.
//
// A Client creates one connection per server lazily, performs the initialize
// handshake, and keeps the connection in a pool until it idles out, fails, or the
// server's identity changes. Many calls may be in flight on one connection; they are
// correlated by request id.
//
// Errors fall into three groups: *ConnectionError (spawn, connect or transport
// failure), *jsonrpc.Error (the server answered with an error) and *TimeoutError
// (no answer within the operation's bound). The first and last drop the pooled
// connection.
package mcpclient

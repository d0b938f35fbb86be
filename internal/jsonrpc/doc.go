// Package jsonrpc provides JSON-RPC 2.0 envelopes and a codec for building them.
//
// A Codec owns a monotonically increasing id counter. Clients create one codec per
// instance so that ids never collide across independently constructed clients:
//
//	codec := jsonrpc.NewCodec()
//	req, _ := codec.BuildRequest("tools/list", nil)       // id 1
//	note, _ := codec.BuildNotification("notifications/initialized", nil)
//
// Responses are unwrapped with ExtractResult, which returns a *Error when the remote
// side answered with an error object.
package jsonrpc

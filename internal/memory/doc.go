// Package memory holds what an agent has learned during one episode and decides
// when it has learned enough to stop calling tools.
package memory

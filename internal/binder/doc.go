// Package binder fills tool arguments from what the agent already knows.
package binder

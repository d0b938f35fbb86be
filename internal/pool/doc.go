// Package pool keeps one live connection per tool server id and evicts idle ones.
package pool

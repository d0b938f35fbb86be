// Package selector builds document filters from tool arguments and evaluates them.
//
// Deadlines may be stored either as timestamps or as YYYY-MM-DD strings, so date
// thresholds are always emitted as an $or over both representations.
package selector

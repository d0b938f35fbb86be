// Package catalog describes the tools an agent may call: their arguments, whether
// they write, and which memory fields they are implicitly scoped by.
package catalog

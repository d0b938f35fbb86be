// Package tools provides the executable tools an agent can call.
//
// A Tool pairs a catalog.Spec with a middleware.Handler. Tools are grouped in
// packs and registered in a Registry, which rejects name collisions and keeps
// a catalog of every registered spec for argument validation and binding.
//
// Two kinds of pack exist:
//
//   - WorkspacePack: the built-in workspace tools. Reads build selectors with
//     the selector package and evaluate them through a store.DocumentStore;
//     writes create and update tasks and notes. Results are folded into the
//     episode memory (lists.tasks, ids.projectId, entities.note, ...).
//   - ExternalPack: tools advertised by an external tool server, invoked
//     through the protocol client and namespaced as "<server>__<tool>".
//
// Handlers are unwrapped; callers apply middleware.Middleware.Wrap with the
// appropriate source and policy.
package tools

// Package main hosts the dirjobs CLI entrypoint and command graph.
//
// "dirjobs worker run" starts a worker that claims jobs from the shared
// directory queue. The remaining commands inspect and feed that queue,
// read the local history ledger, scaffold configuration, and report host
// readiness. None of them coordinate with running workers; the directory
// tree is the only shared state.
package main

// Package preflight provides readiness checks for the directories and
// binaries a dirjobs worker depends on.
//
// These checks run in two contexts:
//   - The worker run assembly calls RunAll before entering the loop. A
//     failed check aborts startup so a misconfigured host never claims a job
//     it cannot finish.
//   - The CLI "dirjobs status" command renders every result, passed or not.
//
// Binary checks are gated by the encoder backend and dry-run mode.
package preflight

// Package preflight provides readiness checks for the services and
// filesystem paths that mediaflow depends on.
//
// These checks run in two contexts:
//   - The run command calls RunAll before the first pass. A failed check
//     stops the run before any task is started.
//   - The "mediaflow doctor" command renders every result, including the
//     ones that passed.
//
// Checks against remote services use a single attempt with a short timeout.
package preflight

// Package runs implements the lifecycle of a checklist run.
//
// States:
//   - open -> assigned -> submitted
//   - assigned -> open (unclaim by the assignee)
//   - open -> submitted (claiming is optional)
//
// Creation is idempotent per (unit, template, day key): manual starts and
// scheduler ticks share CreateRun and the repository decides the winner.
// Claim, unclaim and submit are conditional updates; losing a race re-reads
// the run and re-evaluates the guards rather than failing.
//
// Auditing:
//   - run_started only when a run is actually created.
//   - run_assigned, run_unassigned and run_submitted once per transition.
//   - Rejected transitions and idempotent replays emit nothing.
//   - Audit append is best effort and never fails a transition.
package runs

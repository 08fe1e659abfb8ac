// Package engine runs the sync cycle: it pulls posts from the source feed,
// decides per post whether it still needs to be mirrored, dispatches it to
// every post-capable platform and records the outcome.
//
// Per post the states are:
//
//	Unseen -> Evaluated -> Skipped(cached)
//	                    -> Dispatched -> Recorded
//
// A post whose synced flag is set is skipped and counts towards the
// consecutive-cache cutoff; once the cutoff is reached no further post is
// pulled for that account in that run. Any other post resets the counter,
// is offered to every platform independently and is flagged only after all
// platform attempts have finished, whatever their outcome.
//
// Profile sync runs per account before the post pass and is never gated by
// the cutoff.
//
// Thread-safety model:
//   - RunCycle/Run: one caller at a time per store
//   - SyncProfile: fans out capability calls and joins them before returning
//   - SyncPosts: dispatch may fan out across platforms (WithParallelDispatch);
//     the synced flag write always follows the join
package engine

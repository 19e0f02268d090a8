// Package workflow sequences multi-stage sessions through the dispatcher.
//
// A session moves through initialized, expert_consultation, in_progress and
// completed; any state can move to failed, and only an explicit restart
// returns a failed session to initialized. Linear and custom sessions run one
// stage at a time; parallel sessions may have several stages in flight,
// bounded by the dispatcher's pool.
//
// Sessions are persisted through a Store after every mutation. Persistence is
// best-effort: a failing save is logged and the in-memory state stands.
package workflow

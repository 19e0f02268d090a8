// Package events carries fire-and-forget notifications out of the dispatch
// core. Publishing never blocks and never fails back into the caller; slow
// consumers lose events rather than slowing down dispatch. The websocket hub
// streams the same events to connected observers.
package events

// Package activation implements the push activation state machine.
//
// The machine serializes user intent (activate, deactivate), platform
// registration tokens and asynchronous registration outcomes into a single
// sequence of transitions. It is associated with the device, not with the
// process: the current persistable state and the pending event queue are
// checkpointed after every call to HandleEvent, and a new process resumes
// from the checkpoint.
//
// ARCHITECTURE:
//
// States and events are closed tagged enumerations. A static table maps each
// state tag to its transition function; a transition either returns the next
// state (plus the side effects that entering it implies) or reports the event
// as unhandled, in which case the event waits in a FIFO pending queue until a
// later state can consume it.
//
// Persistable states are quiescent points. Transient states stand for an
// in-flight request and are never written to the checkpoint: after a crash
// the machine resumes from the last persistable state.
//
// Thread-safety model:
//   - HandleEvent(): safe from any goroutine; transitions are serialized by a mutex
//   - Side effects (requests, callbacks) run after the mutex is released
//   - Each outbound request reports back exactly once through HandleEvent
package activation

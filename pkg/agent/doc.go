// Package agent holds the registry of specialized agents and their
// dispatch state machine.
//
// Invariants:
// - An agent is active if and only if it has a current task.
// - The idle to active transition happens under the agent's own lock, so two
//   concurrent dispatches can never both claim the same agent.
// - Completion is keyed by task ID; a late completion for an older dispatch
//   does not touch the agent.
//
// Usage:
//
//	reg := agent.NewRegistry(logger)
//	_ = reg.RegisterAll(agent.DefaultDefinitions())
//	h, err := reg.Dispatch("turbo", taskID)
//	if err != nil {
//		return err
//	}
//	defer h.Finish(agent.Outcome{Success: true, Latency: elapsed})
package agent

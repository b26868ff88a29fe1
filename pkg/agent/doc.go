// Package agent runs the bounded ReAct loop and talks to LLM providers.
//
// Invariants:
//   - A session never exceeds MaxIterations tool-using cycles and always ends
//     in Completed, MaxIterationsReached or Failed.
//   - Tool calls route through toolexecutor only; tool failures are observations.
//   - Providers are tried in priority order; failing profiles cool down.
//
// Usage:
//
//	gen, _ := agent.NewProviderGenerator(agent.ProviderGeneratorConfig{Profiles: profiles})
//	engine, _ := agent.NewReActEngine(agent.Config{Executor: exec, Generator: gen})
//	session := engine.Run(ctx, agent.AgentRequest{UserID: "u1", Query: "3 + 4"}, agent.RunOptions{})
//	fmt.Println(session.State, session.Answer)
package agent

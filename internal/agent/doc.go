// Package agent contains the core orchestrator responsible for translating
// natural-language intents into executable Web3 workflows. It coordinates the
// lifecycle of AI-driven tasks, handles tool invocation, and maintains
// execution policies.
package agent

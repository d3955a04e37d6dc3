// Package types defines the shared data model of webpilot: tasks, steps,
// step outcomes, and the structured error taxonomy used across the pool,
// resolver, executor, and adaptive agent.
package types

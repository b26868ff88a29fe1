// Package routing decides per request whether to answer directly, run a
// single ReAct loop, or dispatch a workflow across specialists.
//
// Classifiers are pluggable. The Router tries them in order and falls back to
// direct mode when none gives a confident decision, so routing never blocks a
// user.
package routing

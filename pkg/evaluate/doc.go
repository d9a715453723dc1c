// Package evaluate implements the four independent scoring strategies and
// the orchestrator that aggregates them. Each evaluator answers one
// question about a candidate template in a context, computes its score as
// a product of internal factors, and may issue an absolute veto. The
// aggregate is the product of the four scores; a veto forces it to zero
// regardless of the other evaluators.
package evaluate

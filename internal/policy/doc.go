// Package policy implements the garbage-collection decision policies of the
// FTL: the threshold-driven Lazy-RTGC scheme, the tabular Q-learning
// scheduler with percentile-derived rewards, and the aggressive overlay that
// adds early and read-triggered collection.
//
// Policies are pure decision state machines: they see free-block counts,
// ticks and response times, and answer trigger and budget questions. They
// never touch the block store; the dispatcher in internal/ftl owns all
// mutation.
package policy

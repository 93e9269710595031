// Package filter implements the admission engine that decides, for every
// candidate telemetry event, whether it is kept or dropped.
//
// Rules run in a fixed order and the first decisive rule wins:
//
//  1. error and critical severities are always admitted
//  2. bot and automation sessions are dropped
//  3. pages outside the host whitelist are dropped
//  4. static assets and infrastructure URLs are dropped
//  5. browser-extension URLs and stacks are dropped
//  6. third-party script errors are dropped when configured
//  7. custom predicates run in order, first false drops
//  8. probabilistic sampling
//
// The engine also classifies whether the session belongs to a real user, which
// the coordinator uses to decide whether to start instrumentation at all.
// Missing signals never cause an error; they fall through to the next rule.
package filter

/*
Package isolate embeds the goja JavaScript engine and executes scripts under
enforced time and memory budgets, exchanging values and object references
between host and guest in both directions.

# Overview

Each Context is one guest isolated environment with its own global
namespace, handle cache, weak-reference registry, and compiled script set.
Scripts compile once into Script units and run any number of times against
their owning context. A single process-wide watchdog goroutine tracks every
governed execution's deadline and memory ceiling and force-terminates
whatever runs past its budget.

# Identity bridging

Host values projected into the guest keep their identity: the same host
method or closure always projects to the same guest function object, and a
host object passed in twice reuses its live wrapper. Wrappers are tracked
weakly; when the collector reports one unreachable, the registry releases
its strong hold on the host value and refunds the wrapper's heap-pressure
charge. Guest functions and objects returned to the host become proxies
that re-enter the owning context when used.

# Resource governance

An execution registers with the watchdog when its effective time or memory
limit is non-zero. The watchdog wakes at the nearest deadline across all
registered executions, interrupts the guest engine cross-thread, and the
engine unwinds at its next safe point. The resulting error is a
resource-termination kind distinct from script exceptions and is not
catchable from guest code; the context stays usable afterwards.

# Concurrency

One goroutine executes inside a context at a time; the context lock is held
for every guest entry, including re-entries through host callbacks and
guest proxies. The watchdog is the only concurrent party and communicates
solely through its mutex-protected registry and the engine's cross-thread
interrupt.
*/
package isolate

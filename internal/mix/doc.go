// Package mix implements the real-time side of the engine: the voice slab,
// the bus graph with sends, master summation, level metering, and the
// preallocated scratch buffers the render loop works in.
//
// Everything called from the render goroutine is allocation-free and
// lock-free. Control threads hand work to the render loop through the
// engine's command mailbox; nothing in this package blocks the block
// deadline.
package mix

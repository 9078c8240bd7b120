// Package d2 drives a fixed-function 2D rendering accelerator through
// display lists.
//
// # Overview
//
// Clients set material state on contexts and submit primitives to a
// Device. The driver turns every call into register writes, drops writes
// that would not change a register, packs the rest into a display list and
// hands finished lists to the accelerator, which reads them
// asynchronously while the CPU assembles the next one.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/d2"
//	    "github.com/gogpu/d2/hw/sim"
//	)
//
//	dev, err := d2.Open()
//	if err != nil { ... }
//	defer dev.Close()
//
//	port := sim.New(sim.Config{})
//	if err := dev.Init(port); err != nil { ... }
//
//	ctx := dev.DefaultContext()
//	ctx.SetColor(0, 0xFF8000)
//	dev.RenderBox(fixed.I(10), fixed.I(10), fixed.I(100), fixed.I(50))
//	dev.Execute(nil, 0)
//	dev.WaitIdle(context.Background())
//
// # Architecture
//
// The driver is organized into:
//   - Public API: Device, Context, RenderBuffer, Registry
//   - hw: the hardware port interface and backend registry
//   - hw/sim: a simulated accelerator for tests and tools
//   - regs: the register map
//   - internal/dlist: display-list encoding, growth, upload and replay
//   - internal/regcache, internal/scratch, internal/layer, internal/mem:
//     write elision, staging, postprocess layering and memory budgets
//
// # Render Buffers
//
// A RenderBuffer is Writable while selected, Closed once executed and Busy
// while the accelerator reads it. Two default buffers allow double
// buffering with StartFrame and EndFrame. A Busy buffer cannot be
// selected, executed or freed; WaitIdle returns it to Closed.
//
// # Errors
//
// Every call returns an error and records it as the device's last error.
// Failures on the flush path, which runs inside unrelated calls, are kept
// as a delayed error that CheckError and Execute report.
//
// # Concurrency
//
// A Device is not safe for concurrent use. Callers serialize access; the
// only parallelism is the accelerator reading submitted lists.
package d2

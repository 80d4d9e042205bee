// Package starbridge embeds a Starlark runtime in a Go program and converts
// values in both directions across the boundary.
//
// # Overview
//
// Go values passed into the runtime become runtime values; runtime values
// coming back become Go values, or opaque handles when they have no Go
// shape. Functions cross in both directions: runtime callables are called
// through handles, and Go functions become runtime callables that run on
// the host side. Calls can be queued on a dedicated runtime loop and
// complete through callbacks on the host loop.
//
// # Basic Usage
//
//	exec, _ := executor.New(hostfunc.NewRegistry())
//	defer exec.Close()
//
//	exec.EvalAsFile("def add(a, b):\n    return a + b\n", "main.star")
//	main, _ := exec.Global()
//	add, _ := main.(*marshal.Handle).Attr("add")
//	sum, _ := add.(*marshal.Handle).Call([]any{1, 2}, nil) // int64(3)
//
//	// Queued on the runtime loop
//	add.(*marshal.Handle).CallAsync([]any{1, 2}, nil, func(v any, err error) {
//	    fmt.Println(v, err)
//	})
//
// # Enabling Capabilities
//
// Runtime code reaches the host through the "host" module. Everything in it
// is off by default:
//
//	exec, _ := executor.New(registry,
//	    executor.WithKV(),
//	    executor.WithAllowedHosts([]string{"api.example.com"}),
//	    executor.WithMount("/data", "./input", hostfunc.MountReadOnly),
//	    executor.WithWasmModule("adder", adderWasm))
//
// See the [executor], [marshal], [foreign], [hostfunc] and [wasmmod]
// packages for detailed API documentation.
package starbridge

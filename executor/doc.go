// Package executor runs an embedded Starlark runtime next to Go and bridges
// the two.
//
// # Overview
//
// An Executor owns the runtime, the marshaller converting values between
// the two sides, and two event loops: the foreign loop, which runs calls
// queued with [marshal.Handle.CallAsync] in order, and the host loop, which
// runs completion callbacks and host functions called from the foreign
// loop. Only one Executor may be live in a process.
//
// # Basic Usage
//
//	exec, err := executor.New(hostfunc.NewRegistry())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
//	exec.EvalAsFile("def double(x):\n    return x * 2\n", "main.star")
//	v, _ := exec.Eval("double(21)", "<expr>")
//	fmt.Println(v) // 42
//
// # Calling Across
//
// Go values passed into the runtime are converted; Go functions become
// runtime callables that run on the host side:
//
//	main, _ := exec.Global()
//	main.(*marshal.Handle).SetAttr("greet", func(name string) string {
//	    return "hello " + name
//	})
//
// Runtime functions come back as handles and can be called synchronously
// or queued on the foreign loop:
//
//	fn, _ := exec.Eval("double", "<expr>")
//	fn.(*marshal.Handle).CallAsync([]any{4}, nil, func(v any, err error) {
//	    fmt.Println(v) // 8, on the host loop
//	})
//
// A queued call that fails with no callback is only logged.
//
// # Capabilities
//
// Runtime code reaches the host through the "host" module. It has
// time_now; everything else is enabled explicitly:
//
//	exec, _ := executor.New(registry,
//	    executor.WithAllowedHosts([]string{"api.example.com"}),
//	    executor.WithMount("/data", "./input", executor.MountReadOnly),
//	    executor.WithKV(),
//	)
//
// WebAssembly binaries given with [WithWasmModule] are importable as
// modules of their numeric exports.
package executor

// Package marshal converts values between Go and the embedded runtime and
// exposes runtime objects to Go as [Handle] proxies.
//
// # Conversion
//
// [Marshaller.ToForeign] turns a Go value into a new runtime value and
// returns an owned reference to it. [Marshaller.ToHost] turns a runtime
// value into Go values without consuming the caller's reference. Both must
// be called with the runtime lock held.
//
// Scalars map directly:
//
//	nil            <-> None
//	bool           <-> bool
//	int64/*big.Int <-> int
//	float64        <-> float
//	complex128     <-> complex
//	[]byte         <-> bytes, bytearray
//	string         <-> str
//	time.Time      <-> time (via the date/time classifier)
//
// Containers map to []any (list), [Tuple], [*Set] and [*Dict]. Shared and
// cyclic references survive the trip: a runtime list that contains itself
// becomes a []any whose first element is that same slice.
//
// Functions, methods, classes and any other object become a [*Handle]. Go
// functions passed into the runtime become callable shims; see
// [FunctionWrapper].
//
// # Hooks
//
// Five extension points shape conversion, each set once before use:
//
//   - [Classifier] decides which Go values are dates.
//   - [FilterConstructor] builds the Test/Register/Finalize [Filter] offered
//     every container on its way into the runtime.
//   - [Unmarshaller] recognizes Go values that already stand for runtime
//     objects.
//   - [Builder] constructs and populates the Go side of every conversion.
//   - [DebugSink] receives debug messages from runtime code.
//
// # Errors
//
// Conversion failures wrap [ErrUnsupportedType]. Errors raised inside the
// runtime are translated into a [*ForeignError] carrying the formatted
// message and a handle on the original exception object.
package marshal

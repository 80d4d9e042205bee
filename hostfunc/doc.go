// Package hostfunc holds the Go functions that runtime code reaches through
// the "host" module.
//
// Every host function has the [Func] signature: it receives the keyword
// arguments of the call, already converted to Go values, and returns a
// value that is converted back. Positional arguments are rejected before a
// Func runs.
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("shout", func(ctx context.Context, args map[string]any) (any, error) {
//	    s, _ := args["text"].(string)
//	    return strings.ToUpper(s), nil
//	})
//
// and from the runtime:
//
//	load("host", "shout")
//	shout(text="hi")
//
// # Capabilities
//
// The executor registers these when the matching option is given:
//
//   - kv_get, kv_set, kv_delete, kv_keys: an in-memory [KV] store bounded by [KVConfig]
//   - http_request, http_get: outbound requests through [HTTP], limited to [HTTPConfig].AllowedHosts
//   - fs_read, fs_write, fs_list, fs_exists, fs_stat: files under the [Mount] points of an [FS]
//
// Nothing is reachable unless enabled. With no allowed hosts every request
// fails with "http not enabled", and paths outside a mount never resolve.
package hostfunc

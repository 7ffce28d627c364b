// Package docker provides Docker Engine integration for bundle-pack.
//
// The python_mod_req preprocessor vendors Python modules into a bundle by
// installing them inside a container and copying the installed files out
// through a bind-mounted workspace. This package supplies the client and
// the small set of operations that flow needs.
//
// Key components:
//   - Connect: daemon connection with socket detection and a health check
//   - Run / RunAndCommit: one-shot containers, removed after use
//   - Labels: bundle-pack.* labels identifying helper containers
package docker

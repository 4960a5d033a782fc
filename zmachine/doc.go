// Package zmachine implements the Z-machine virtual machine, versions 1
// through 8.
//
// This package contains:
//   - Story file loading and header parsing
//   - Bytecode interpreter with a run-until-input execution model
//   - Z-string text codec, dictionary lookup, and tokenisation
//   - Object tree access with integrity checks
//   - Snapshots, in CBOR buffer form and Quetzal media form
package zmachine

// Layer 0 of the registry: plain data structures with json tags. No
// sub-packages and no constructors; the only methods are the enums'
// String() and DepKind.Valid(). Request validation and persistence
// belong to the packages that read and write these shapes.
package domain

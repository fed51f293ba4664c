// Package domain defines the core business types for the WebiBook analytics
// backend.
//
// Types in this package are pure value objects with no behavior, no storage
// dependencies, and no HTTP concerns. They are the shared language between
// handlers, services, and storage adapters.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No storage clients, no http.Request, no context.Context in struct fields
//   - JSON tags are allowed (they're metadata, not behavior)
//   - Validation methods are allowed (they're pure functions on the type)
//   - Constants and enums belong here
package domain

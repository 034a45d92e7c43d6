// Package resource implements the reference-counted resource table.
//
// Resources are opaque host-native objects (files, streams, timers) that
// scripted code can hold only by integer handle. The Table maps handles to
// live resources and tracks a secondary reference count for resources
// captured by in-flight async tasks.
//
// # Handle Lifecycle
//
//	table := resource.NewTable()
//
//	h := table.Insert(myFile)          // handle out to scripted code
//	r, ok := table.GetReader(h)        // capability-narrowed access
//	err := table.Close(h)              // invalidate; finalize when unreferenced
//
// A closed handle is permanently invalid: Get fails and a second Close
// returns BadResource. Slots are recycled only after finalization, never
// while any reference exists, so use-after-close races are structurally
// impossible even under concurrent task completion.
//
// # Task References
//
// An async task that captures a resource calls Ref before using it and
// Unref when it finishes. Close while references are outstanding
// invalidates the handle but keeps the resource alive; the last Unref
// finalizes it (last-holder-frees).
//
// # Capabilities
//
// Concrete resource kinds are variants behind the capability set
// {Reader, Writer, Closer, Shutdowner}, looked up and checked at the point
// of use rather than through type hierarchies.
//
// # Teardown
//
// CloseAll force-closes every resource in unspecified order. Finalizer
// errors are logged through this package's Logger and never propagated.
package resource

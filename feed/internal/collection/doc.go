// Package collection holds the feed's ordered, keyed collection and turns
// revisions of it into child events.
//
// Load(path) parses a YAML file of the form
//
//	items:
//	  - key: a
//	    value: {title: first}
//	  - key: b
//	    value: [1, 2, 3]
//
// re-encoding every value as JSON. Diff(old, new) returns the events that
// transform old into new when applied in order, and Collection fans those
// events out to its subscribers. Watch reloads the backing file with fsnotify.
package collection

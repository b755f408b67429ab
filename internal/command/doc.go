// Package command holds the per-device command payloads sent to the portal.
//
// Payloads are opaque strings. They are rendered at discovery time from a
// Table of templates keyed by device type and action, using the element's
// index and page:
//
//	table := command.DefaultTable()
//	cmds := table.Render("WindowCovering", "7", 2)
//	payload, err := cmds.Payload(command.ActionDown) // "7+03+00+02"
//
// A Mappings file can override rendered payloads per device key, or mark a
// device READONLY.
package command

// Package ir provides the record model shared by every kinrule package.
//
// This package contains type definitions and their encodings only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - A field value is exactly one of Scalar, Table or Opaque (sealed Value)
//   - Field presence is explicit: Record.Has distinguishes "absent" from "empty"
//   - Lifecycle events are an enumerated kind plus an optional field code;
//     host event names are only built and parsed at the boundary (Event.String,
//     ParseEvent)
//   - Canonical JSON (RFC 8785 key order, NFC strings) is the only encoding
//     used for content hashes and golden traces
package ir

// Package handoff implements the cross-device file-handoff protocol: a
// desktop session requests a short-lived upload session, renders it as a QR
// code, and a phone that scans the code submits a document against it. The
// desktop then polls for the staged payload, which is delivered at most once.
//
// Sessions are single-use, bound to the network address that created them,
// expire after a fixed TTL, and accept a bounded number of uploads. Payloads
// are validated against declared type, size, and actual byte signature before
// they are staged in the object store.
//
// Sessions live in process memory and do not survive a restart; a
// horizontally scaled deployment needs the session registry externalized the
// same way the Redis object store externalizes payloads.
package handoff

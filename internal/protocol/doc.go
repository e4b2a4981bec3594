// Package protocol owns the TDISP wire contract.
//
// Ownership boundary:
// - message header and the closed message-type set
// - per-operation request/response payload layouts
// - device interface report layout
// - error codes carried by TDISP_ERROR responses
//
// All multi-byte fields are little-endian. Decoding never panics: malformed,
// truncated, or unknown input yields an error and no partial message.
package protocol

// Package message defines the typed envelope and payload set exchanged
// with clients. Inbound frames enter through ParseInbound, which
// validates the payload against a per-type JSON Schema and decodes it
// into a concrete payload struct; everything downstream works with
// validated, typed data.
package message

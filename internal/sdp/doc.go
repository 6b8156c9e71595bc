// Package sdp encodes and validates the service record a chat host
// advertises. The only attribute is the service name, stored as a one-byte
// SDP type, a one-byte length and the UTF-8 name.
package sdp

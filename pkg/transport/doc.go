// Package transport provides typed request/response connections between
// services that may live in the same process or across a QUIC network.
//
// A server registers a Listener for a service id and a (request, response)
// message pair; clients connect either in process with Client(...).Build or
// over QUIC with Client(...).Dial. Both paths yield the same Connection type.
// Values cross an untyped Endpoint internally and are checked against their
// type identity whenever a typed half attaches to one.
//
// On the network each message travels as a frame: a 4-byte little-endian
// length followed by the CBOR encoding of the value.
package transport

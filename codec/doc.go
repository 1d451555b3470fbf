// Package codec implements the binary wire format used to move typed messages
// between groups, processes and network peers.
//
// A packet is laid out as
//
//	[1 byte packet type][field 1][field 2]...[field n]
//
// with fields encoded in declaration order. Scalars use the big-endian
// standard-size layout of the matching struct format character. Variable
// width fields are pascal strings ("p"), long strings ("S") and arrays of a
// fixed-width element ("a<t>"). A field may also be a composite of several
// primitive types packed from a single logical value.
//
// Byte streams (TCP, process pipes) carry packets inside length-prefixed
// frames, see WriteFrame and ReadFrame.
package codec

// Package pipeline wires the generator, sender, and receiver into a
// running sync over a wire.Encoder/wire.Decoder pair, handling the Hello
// handshake, cancellation, and final stats exchange.
package pipeline

import "io"

// Transport is a full-duplex connection to the peer. It is split into
// separate Reader/Writer fields (rather than a single io.ReadWriter) so an
// in-process run can wire two io.Pipe pairs together into one duplex
// connection, the way the teacher's own tests drive Sync/Apply directly
// against in-memory buffers instead of a real socket.
type Transport struct {
	R io.Reader
	W io.Writer
}

// Close closes whichever of R/W also implement io.Closer; either, both, or
// neither may (a raw io.Pipe end does, a bytes.Buffer doesn't).
func (t Transport) Close() error {
	var err error
	if c, ok := t.W.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil {
			err = cerr
		}
	}
	if c, ok := t.R.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// DuplexPipe returns two Transports connected back to back entirely in
// memory, for tests and the demo binary: writes to one side's W arrive on
// the other side's R.
func DuplexPipe() (a, b Transport) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	return Transport{R: ar, W: aw}, Transport{R: br, W: bw}
}

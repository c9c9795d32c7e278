// Package transport carries newline-delimited text frames between the
// controller and a fugu power-converter board, over a local serial port
// or a TCP (telnet-like) socket.
//
// Both variants share the same contract: Open is idempotent, Read
// returns the next available chunk or an empty result on timeout, Write
// sends raw bytes, Close releases the medium and may be called twice.
// Exactly one reader and one writer role per transport instance.
package transport

type Transport interface {
	Open() error
	// Read returns the next chunk of received bytes. A timeout with no
	// data is (nil, nil), not an error. A chunk may hold a partial line
	// or several lines.
	Read() ([]byte, error)
	Write(p []byte) (int, error)
	Close() error
}

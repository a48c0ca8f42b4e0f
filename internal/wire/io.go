package wire

import (
	"bufio"
	"io"
)

// ReadFrame reads one frame from r: a HeaderLen-byte header followed by
// its payload. validate is called with the decoded command and payload
// length before the payload is read, so callers can reject a command
// whose length doesn't fit its contract (e.g. LIST-REQUEST must carry a
// zero-length payload) without buffering attacker-controlled data first.
func ReadFrame(r *bufio.Reader, validate func(Command, uint32) error) (Command, []byte, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}

	cmd, payloadLen, err := DecodeHeader(hdr[:])
	if err != nil {
		return 0, nil, err
	}

	if validate != nil {
		if err := validate(cmd, payloadLen); err != nil {
			return 0, nil, err
		}
	}

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}

	return cmd, payload, nil
}

// WriteFrame writes a complete frame to w.
func WriteFrame(w io.Writer, cmd Command, payload []byte) error {
	_, err := w.Write(EncodeFrame(cmd, payload))
	return err
}

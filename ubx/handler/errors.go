package handler

import (
	"fmt"
	"io"

	"github.com/goblimey/go-rtkpost/ubx/utils"
)

// FrameFormatError describes a frame with a good checksum whose payload
// doesn't fit its message type, or a header giving an impossible length.
// The frame is discarded.
type FrameFormatError struct {
	Class, ID byte
	Length    int
	Err       error
}

func (e *FrameFormatError) Error() string {
	return fmt.Sprintf("%s frame with payload length %d: %v",
		utils.MessageName(e.Class, e.ID), e.Length, e.Err)
}

func (e *FrameFormatError) Unwrap() error {
	return e.Err
}

// TruncatedStreamError reports that the input ended part way through a
// frame.  It ends the message sequence just like io.EOF does, and
// errors.Is(err, io.EOF) is true.
type TruncatedStreamError struct {
	// Partial is the number of bytes of the incomplete frame.
	Partial int
}

func (e *TruncatedStreamError) Error() string {
	return fmt.Sprintf("input ended part way through a frame (%d bytes)", e.Partial)
}

func (e *TruncatedStreamError) Unwrap() error {
	return io.EOF
}

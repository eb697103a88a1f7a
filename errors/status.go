package errors

import "fmt"

// Status is the numeric result code every engine operation returns.
type Status int32

const (
	StatusOK Status = iota
	StatusOpenFailedEmptyInput
	StatusUnsupportedFiletype
	StatusLoadFailedExternal
	StatusLoadFailedInternal
	StatusConversionFailedBadFormat
	StatusWriteFailedExternal
	StatusWriteFailedInternal
	StatusInvalidEncodeArgs
	StatusIOFailed
)

type statusInfo struct {
	kind Kind
	msg  string
}

var statusTable = map[Status]statusInfo{
	StatusOpenFailedEmptyInput:      {KindIO, "input stream is empty"},
	StatusUnsupportedFiletype:       {KindUnsupportedFormat, "no engine supports this file type"},
	StatusLoadFailedExternal:        {KindCodecInternal, "image data is corrupt or truncated"},
	StatusLoadFailedInternal:        {KindCodecInternal, "engine failed to load image"},
	StatusConversionFailedBadFormat: {KindUnsupportedFormat, "pixel format conversion not possible"},
	StatusWriteFailedExternal:       {KindCodecInternal, "engine failed to write image"},
	StatusWriteFailedInternal:       {KindCodecInternal, "engine failed to write image"},
	StatusInvalidEncodeArgs:         {KindCodecInternal, "invalid encode options"},
	StatusIOFailed:                  {KindIO, "stream i/o failed"},
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusOpenFailedEmptyInput:
		return "open_failed_empty_input"
	case StatusUnsupportedFiletype:
		return "unsupported_filetype"
	case StatusLoadFailedExternal:
		return "load_failed_external"
	case StatusLoadFailedInternal:
		return "load_failed_internal"
	case StatusConversionFailedBadFormat:
		return "conversion_failed_bad_format"
	case StatusWriteFailedExternal:
		return "write_failed_external"
	case StatusWriteFailedInternal:
		return "write_failed_internal"
	case StatusInvalidEncodeArgs:
		return "invalid_encode_args"
	case StatusIOFailed:
		return "io_failed"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// Kind returns the error kind a non-ok status maps to.
func (s Status) Kind() Kind {
	if info, ok := statusTable[s]; ok {
		return info.kind
	}
	return KindCodecInternal
}

// DetailSource is implemented by engine handles that keep the diagnostic text of
// their last failure.
type DetailSource interface {
	ErrorDetails() string
}

// Check converts an engine status into an error. StatusOK never errors. The
// message is taken from src when a handle exists, otherwise from a generic table.
func Check(op string, status Status, src DetailSource) error {
	if status == StatusOK {
		return nil
	}
	e := &CodecError{Kind: status.Kind(), Op: op, Status: status}
	if src != nil {
		e.Detail = src.ErrorDetails()
	}
	if e.Detail == "" {
		if info, ok := statusTable[status]; ok {
			e.Detail = info.msg
		} else {
			e.Detail = "engine returned " + status.String()
		}
	}
	return e
}

package video

import "bytes"

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// ScanJPEG is a bufio.SplitFunc that yields complete JPEG images from a
// concatenated MJPEG byte stream. Bytes before a start-of-image marker are
// discarded, and a trailing partial image at EOF is dropped.
func ScanJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// keep a trailing 0xFF, it may be the first half of the next SOI
		if n := len(data); n > 1 {
			return n - 1, nil, nil
		}
		return 0, nil, nil
	}

	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}

	end += start + len(jpegSOI) + len(jpegEOI)
	return end, data[start:end], nil
}

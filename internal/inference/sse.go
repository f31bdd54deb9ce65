package inference

import (
	"bufio"
	"io"
	"strings"
)

const sseDoneToken = "[DONE]"

// sseDecoder yields the payload of each "data:" line. Providers emit one
// JSON record per line and do not always separate events with blank lines,
// so every data line is its own record.
type sseDecoder struct {
	r *bufio.Reader
}

func newSSEDecoder(r io.Reader) *sseDecoder {
	return &sseDecoder{r: bufio.NewReader(r)}
}

// next returns the next data payload, or io.EOF at the end of the body.
func (d *sseDecoder) next() (string, error) {
	for {
		line, err := d.r.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}

		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, "data:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data:")), nil
		}

		if err == io.EOF {
			return "", io.EOF
		}
	}
}

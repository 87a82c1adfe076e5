package bridge

import (
	"bufio"
	"io"
	"strings"
)

// drainDiagnostics forwards each line of the worker's stderr to sink until
// the stream closes, then closes r if it can.
func drainDiagnostics(r io.Reader, sink func(line string), done chan<- struct{}) {
	defer close(done)
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			sink(line)
		}
		if err != nil {
			return
		}
	}
}

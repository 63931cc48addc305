// Package subprocess streams a running exec.Cmd's stderr into the
// structured logger line-by-line, while still capturing it so the final
// error message can include the tail.
package subprocess

import (
	"bufio"
	"bytes"
	"io"
	"os/exec"

	"github.com/loomrender/renderworker/log"
)

// StreamStderr starts cmd's stderr pipe, tees each line to the structured
// logger tagged with renderID, and returns the buffer the caller can read
// from once cmd has exited (for inclusion in a wrapped error).
func StreamStderr(cmd *exec.Cmd, renderID, label string) (*bytes.Buffer, error) {
	pipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	var captured bytes.Buffer
	go streamLines(pipe, &captured, renderID, label)
	return &captured, nil
}

func streamLines(src io.Reader, capture *bytes.Buffer, renderID, label string) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		capture.WriteString(line)
		capture.WriteByte('\n')
		log.Log(renderID, label, "line", line)
	}
}

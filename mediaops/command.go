package mediaops

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/loomrender/renderworker/config"
	"github.com/loomrender/renderworker/log"
)

// Command is a fluent, typed builder over an ffmpeg invocation. It forces
// required parameters through named methods instead of letting callers
// paste scene URLs or filter strings into a single shelled-out command
// line (§9 design note: no ad-hoc shell concatenation).
type Command struct {
	bin           string
	renderID      string
	args          []string
	filterComplex string
	output        string
}

func NewCommand(bin, renderID string) *Command {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Command{bin: bin, renderID: renderID, args: []string{"-y", "-hide_banner", "-loglevel", "warning"}}
}

func (c *Command) Input(path string) *Command {
	c.args = append(c.args, "-i", path)
	return c
}

func (c *Command) SeekInput(path string, seekSec float64) *Command {
	// "-ss" placed after "-i" is an output seek: ffmpeg decodes the input
	// and discards frames up to seekSec, so the seek lands on a decoded
	// frame rather than the nearest keyframe.
	c.args = append(c.args, "-i", path, "-ss", fmt.Sprintf("%.3f", seekSec))
	return c
}

func (c *Command) VideoFilter(f string) *Command {
	if f != "" {
		c.args = append(c.args, "-vf", f)
	}
	return c
}

func (c *Command) FilterComplex(graph string) *Command {
	c.filterComplex = graph
	return c
}

func (c *Command) Map(spec string) *Command {
	c.args = append(c.args, "-map", spec)
	return c
}

func (c *Command) VideoCodec(codec string) *Command {
	c.args = append(c.args, "-c:v", codec)
	return c
}

func (c *Command) AudioCodec(codec string) *Command {
	c.args = append(c.args, "-c:a", codec)
	return c
}

func (c *Command) Profile(profile string) *Command {
	c.args = append(c.args, "-profile:v", profile)
	return c
}

func (c *Command) PixFmt(fmtName string) *Command {
	c.args = append(c.args, "-pix_fmt", fmtName)
	return c
}

func (c *Command) CRF(v int) *Command {
	c.args = append(c.args, "-crf", strconv.Itoa(v))
	return c
}

func (c *Command) Preset(preset string) *Command {
	c.args = append(c.args, "-preset", preset)
	return c
}

func (c *Command) FPS(fps int) *Command {
	c.args = append(c.args, "-r", strconv.Itoa(fps))
	return c
}

func (c *Command) Frames(n int) *Command {
	c.args = append(c.args, "-frames:v", strconv.Itoa(n))
	return c
}

func (c *Command) AudioBitrate(kbps int) *Command {
	c.args = append(c.args, "-b:a", fmt.Sprintf("%dk", kbps))
	return c
}

func (c *Command) AudioRate(hz int) *Command {
	c.args = append(c.args, "-ar", strconv.Itoa(hz))
	return c
}

func (c *Command) NoAudio() *Command {
	c.args = append(c.args, "-an")
	return c
}

func (c *Command) MovFlags(flags string) *Command {
	c.args = append(c.args, "-movflags", flags)
	return c
}

func (c *Command) Shortest() *Command {
	c.args = append(c.args, "-shortest")
	return c
}

func (c *Command) Arg(args ...string) *Command {
	c.args = append(c.args, args...)
	return c
}

func (c *Command) Output(path string) *Command {
	c.output = path
	return c
}

func (c *Command) buildArgs() []string {
	args := make([]string, 0, len(c.args)+3)
	args = append(args, c.args...)
	if c.filterComplex != "" {
		args = append(args, "-filter_complex", c.filterComplex)
	}
	if c.output != "" {
		args = append(args, c.output)
	}
	return args
}

// Run shells out, keeping the last 40 stderr lines and logging them to the
// structured logger only when the tool fails. The invocation is cancellable
// via ctx and is additionally bounded by config.MediaOpsTimeout.
func (c *Command) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, config.MediaOpsTimeout)
	defer cancel()
	args := c.buildArgs()
	cmd := exec.CommandContext(ctx, c.bin, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s failed to start: %w", c.bin, err)
	}

	var tail []string
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for scanner.Scan() {
			line := scanner.Text()
			if len(tail) >= 40 {
				tail = tail[1:]
			}
			tail = append(tail, line)
		}
	}()

	waitErr := cmd.Wait()
	<-done

	if waitErr != nil {
		log.Log(c.renderID, "media tool invocation failed", "bin", c.bin, "args", strings.Join(args, " "), "stderr_tail", strings.Join(tail, "\n"))
		return fmt.Errorf("%s failed: %w", c.bin, waitErr)
	}
	return nil
}

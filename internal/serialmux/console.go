// Package serialmux runs a line-oriented tuning console for the ring filter
// over a serial port.
//
// Commands, one per line:
//
//	get
//	set ring_div=N voxel_leaf_size=F
//	help
//
// Every command gets exactly one response line starting with "ok" or
// "error:".
package serialmux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/ringfilter/internal/lidar/ringfilter"
	"github.com/banshee-data/ringfilter/internal/monitoring"
)

// ErrWriteFailed is returned when the port accepts fewer bytes than written.
var ErrWriteFailed = errors.New("failed to write to serial port")

const helpText = "commands: get | set ring_div=N voxel_leaf_size=F | help"

// Controller reads and replaces the filter configuration.
// *pipeline.Controller implements it.
type Controller interface {
	Current() ringfilter.FilterConfig
	Version() uint64
	Submit(cfg ringfilter.FilterConfig, source string) error
}

// Console serves tuning commands on a serial port.
type Console[T SerialPorter] struct {
	port       T
	controller Controller
	writeMu    sync.Mutex
}

// NewConsole returns a console reading commands from port.
func NewConsole[T SerialPorter](port T, controller Controller) *Console[T] {
	return &Console[T]{port: port, controller: controller}
}

// Run reads and executes commands until ctx is cancelled or the port
// reaches EOF.
func (c *Console[T]) Run(ctx context.Context) error {
	scan := bufio.NewScanner(c.port)
	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// Scan blocks in Read; ctx is checked between lines.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErrChan:
			return fmt.Errorf("serial read: %w", err)
		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return fmt.Errorf("serial read: %w", err)
				default:
					return nil
				}
			}
			resp, ok := c.Execute(line)
			if !ok {
				continue
			}
			if err := c.writeLine(resp); err != nil {
				return err
			}
		}
	}
}

// Execute runs one command line and returns the response. ok is false for
// blank lines, which get no response.
func (c *Console[T]) Execute(line string) (resp string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", false
	}
	switch strings.ToLower(fields[0]) {
	case "get":
		return fmt.Sprintf("ok %s version=%d", c.controller.Current(), c.controller.Version()), true
	case "set":
		cfg, err := parseSet(fields[1:])
		if err != nil {
			return "error: " + err.Error(), true
		}
		if err := c.controller.Submit(cfg, "serial"); err != nil {
			return "error: " + err.Error(), true
		}
		requested, clamped := cfg.Sanitize()
		if clamped {
			monitoring.Opsf("serial console: ring_div %d clamped to %d", cfg.RingDivisor, requested.RingDivisor)
			return fmt.Sprintf("ok pending %s clamped", requested), true
		}
		return fmt.Sprintf("ok pending %s", requested), true
	case "help", "?":
		return "ok " + helpText, true
	default:
		return fmt.Sprintf("error: unknown command %q (%s)", fields[0], helpText), true
	}
}

// parseSet reads key=value pairs. Both keys are required.
func parseSet(args []string) (ringfilter.FilterConfig, error) {
	var (
		cfg             ringfilter.FilterConfig
		haveDiv, haveLS bool
	)
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found {
			return cfg, fmt.Errorf("expected key=value, got %q", arg)
		}
		switch key {
		case "ring_div":
			n, err := strconv.Atoi(value)
			if err != nil {
				return cfg, fmt.Errorf("ring_div: %q is not an integer", value)
			}
			cfg.RingDivisor = n
			haveDiv = true
		case "voxel_leaf_size":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
				return cfg, fmt.Errorf("voxel_leaf_size: %q is not a finite number", value)
			}
			cfg.VoxelLeafSize = f
			haveLS = true
		default:
			return cfg, fmt.Errorf("unknown key %q", key)
		}
	}
	if !haveDiv || !haveLS {
		return cfg, errors.New("both ring_div and voxel_leaf_size are required")
	}
	return cfg, nil
}

func (c *Console[T]) writeLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	line += "\n"
	n, err := c.port.Write([]byte(line))
	if err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	if n != len(line) {
		return ErrWriteFailed
	}
	return nil
}

// Close closes the underlying port, which also ends Run.
func (c *Console[T]) Close() error {
	return c.port.Close()
}

package sensor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

type outputLine interface {
	SetValue(value int) error
	Close() error
}

// LinuxGPIO drives pins as output lines on a GPIO character device and reads
// analog channels from an IIO ADC. Pin numbers are line offsets on the chip;
// analog pins are IIO voltage channel indices.
type LinuxGPIO struct {
	chip   string
	adcDir string
	// request opens one output line, initially low.
	request func(offset int) (outputLine, error)

	mu    sync.Mutex
	lines map[int]outputLine
}

// NewLinuxGPIO uses the given chip (e.g. gpiochip0) and IIO device directory,
// e.g. /sys/bus/iio/devices/iio:device0.
func NewLinuxGPIO(chip, adcDir string) *LinuxGPIO {
	if chip == "" {
		chip = "gpiochip0"
	}
	if adcDir == "" {
		adcDir = "/sys/bus/iio/devices/iio:device0"
	}
	g := &LinuxGPIO{chip: chip, adcDir: adcDir, lines: map[int]outputLine{}}
	g.request = func(offset int) (outputLine, error) {
		return gpiocdev.RequestLine(g.chip, offset,
			gpiocdev.AsOutput(0),
			gpiocdev.WithConsumer("openchessboard"),
		)
	}
	return g
}

func (g *LinuxGPIO) SetPin(pin int, high bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.lines[pin]
	if !ok {
		var err error
		l, err = g.request(pin)
		if err != nil {
			return fmt.Errorf("%s line %d request: %w", g.chip, pin, err)
		}
		g.lines[pin] = l
	}
	v := 0
	if high {
		v = 1
	}
	if err := l.SetValue(v); err != nil {
		return fmt.Errorf("%s line %d set: %w", g.chip, pin, err)
	}
	return nil
}

func (g *LinuxGPIO) ReadAnalog(pin int) (int, error) {
	path := filepath.Join(g.adcDir, fmt.Sprintf("in_voltage%d_raw", pin))
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("adc channel %d: %w", pin, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("adc channel %d: %w", pin, err)
	}
	return v, nil
}

// Close releases every requested line.
func (g *LinuxGPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var errs []error
	for pin, l := range g.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(g.lines, pin)
	}
	return errors.Join(errs...)
}

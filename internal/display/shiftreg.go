package display

import (
	"fmt"
	"time"

	"github.com/TimoKropp/openchessboard/internal/sensor"
)

// ShiftRegister drives the daisy-chained 8-bit LED registers over GPIO.
type ShiftRegister struct {
	gpio  sensor.GPIO
	pins  sensor.LEDPins
	sleep func(time.Duration)
}

func NewShiftRegister(g sensor.GPIO, pins sensor.LEDPins) *ShiftRegister {
	return &ShiftRegister{gpio: g, pins: pins, sleep: time.Sleep}
}

// WriteFrame resets the chain, shifts 64 bits out register by register
// (LSB first), latches them and enables the outputs.
func (s *ShiftRegister) WriteFrame(f Frame) error {
	steps := []struct {
		pin  int
		high bool
	}{
		{s.pins.OutputEnable, true},
		{s.pins.Data, false},
		{s.pins.Reset, false},
	}
	for _, st := range steps {
		if err := s.gpio.SetPin(st.pin, st.high); err != nil {
			return fmt.Errorf("led reset: %w", err)
		}
	}
	s.sleep(time.Millisecond)
	if err := s.set(s.pins.Reset, true); err != nil {
		return err
	}
	if err := s.set(s.pins.Latch, false); err != nil {
		return err
	}
	for i := range f {
		for k := 0; k < 8; k++ {
			if err := s.set(s.pins.Clock, false); err != nil {
				return err
			}
			if err := s.set(s.pins.Data, f[i]&(1<<uint(k)) != 0); err != nil {
				return err
			}
			if err := s.set(s.pins.Clock, true); err != nil {
				return err
			}
		}
	}
	if err := s.set(s.pins.Clock, false); err != nil {
		return err
	}
	if err := s.set(s.pins.Latch, true); err != nil {
		return err
	}
	return s.set(s.pins.OutputEnable, false)
}

func (s *ShiftRegister) set(pin int, high bool) error {
	if err := s.gpio.SetPin(pin, high); err != nil {
		return fmt.Errorf("led pin %d: %w", pin, err)
	}
	return nil
}

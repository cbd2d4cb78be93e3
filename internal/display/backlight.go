//go:build linux

// Package display drives the screen backlight: a GPIO-PWM pin for
// brightness, and an idle timer that dims the screen after
// screen.timeout_seconds of inactivity per settings.json. It has no
// dependency on any audio component — screen.* is an ambient concern of a
// Pi-class host, not part of the source/routing domain.
package display

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

var hostInitOnce sync.Once
var hostInitErr error

func ensureHostInit() error {
	hostInitOnce.Do(func() {
		_, hostInitErr = host.Init()
	})
	return hostInitErr
}

// backlightFreq is a conservative PWM frequency most small-panel backlight
// drivers tolerate without audible whine.
const backlightFreq = 200 * physic.Hertz

// Controller owns the backlight pin and the idle-timeout timer.
type Controller struct {
	pinName string

	mu          sync.Mutex
	pin         gpio.PinIO
	timeoutTmr  *time.Timer
	timeoutSecs int
	enabled     bool
	brightness  int
}

// New constructs a Controller for the named GPIO pin (BCM numbering, e.g.
// "GPIO13"). The pin is not opened until the first SetBrightness call.
func New(pinName string) *Controller {
	return &Controller{pinName: pinName, brightness: 100}
}

func (c *Controller) pinHandle() (gpio.PinIO, error) {
	if c.pin != nil {
		return c.pin, nil
	}
	if err := ensureHostInit(); err != nil {
		return nil, fmt.Errorf("display: gpio host init failed: %w", err)
	}
	pin := gpioreg.ByName(c.pinName)
	if pin == nil {
		return nil, fmt.Errorf("display: failed to open pin %s", c.pinName)
	}
	c.pin = pin
	return pin, nil
}

// SetBrightness drives the backlight pin to pct (0-100). Pins that support
// PWM get a true duty cycle; a plain digital pin falls back to on/off at a
// 50% threshold, matching how many small carrier boards wire their
// backlight when no PWM-capable pin is available.
func (c *Controller) SetBrightness(_ context.Context, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pin, err := c.pinHandle()
	if err != nil {
		return err
	}

	if pwm, ok := pin.(gpio.PinPWM); ok {
		duty := gpio.Duty(pct) * gpio.DutyMax / 100
		if err := pwm.PWM(duty, backlightFreq); err != nil {
			return fmt.Errorf("display: pwm set failed: %w", err)
		}
	} else {
		level := gpio.Low
		if pct >= 50 {
			level = gpio.High
		}
		if err := pin.Out(level); err != nil {
			return fmt.Errorf("display: digital backlight set failed: %w", err)
		}
	}

	c.brightness = pct
	slog.Debug("display: brightness set", "pin", c.pinName, "pct", pct)
	return nil
}

// Brightness returns the last brightness applied via SetBrightness.
func (c *Controller) Brightness() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.brightness
}

// ArmIdleTimeout schedules the backlight to turn off after timeout if no
// further Touch call arrives first. A zero timeout disarms the timer.
func (c *Controller) ArmIdleTimeout(onBrightness int, timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = timeout > 0
	c.timeoutSecs = int(timeout.Seconds())
	if c.timeoutTmr != nil {
		c.timeoutTmr.Stop()
	}
	if !c.enabled {
		return
	}
	c.timeoutTmr = time.AfterFunc(timeout, func() {
		if err := c.SetBrightness(context.Background(), 0); err != nil {
			slog.Warn("display: idle dim failed", "err", err)
		}
	})
	_ = onBrightness
}

// Touch resets the idle timer and restores onBrightness immediately,
// mirroring how a touchscreen driver reports user activity.
func (c *Controller) Touch(onBrightness int) {
	c.mu.Lock()
	enabled := c.enabled
	secs := c.timeoutSecs
	if c.timeoutTmr != nil {
		c.timeoutTmr.Stop()
	}
	c.mu.Unlock()

	if err := c.SetBrightness(context.Background(), onBrightness); err != nil {
		slog.Warn("display: touch restore-brightness failed", "err", err)
	}

	if enabled {
		c.ArmIdleTimeout(onBrightness, time.Duration(secs)*time.Second)
	}
}

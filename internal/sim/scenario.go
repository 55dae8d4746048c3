package sim

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemote/pkg/payload"
	"github.com/srg/blemote/pkg/peripheral"
	"gopkg.in/yaml.v3"
)

// ErrExpectation is wrapped by every failed expect step.
var ErrExpectation = errors.New("expectation failed")

// Scenario is a scripted session between the peripheral and simulated centrals.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step performs exactly one action; unset fields are ignored.
type Step struct {
	Adapter         string             `yaml:"adapter,omitempty"`
	FailAdvertising *string            `yaml:"fail_advertising,omitempty"`
	Connect         string             `yaml:"connect,omitempty"`
	Disconnect      string             `yaml:"disconnect,omitempty"`
	Subscribe       string             `yaml:"subscribe,omitempty"`
	Unsubscribe     string             `yaml:"unsubscribe,omitempty"`
	WriteCCCD       *CCCDWrite         `yaml:"write_cccd,omitempty"`
	Read            string             `yaml:"read,omitempty"`
	Publish         map[string]float64 `yaml:"publish,omitempty"`
	Expect          *Expect            `yaml:"expect,omitempty"`
}

// CCCDWrite writes a raw descriptor value, for exercising malformed input.
type CCCDWrite struct {
	Central string `yaml:"central"`
	Value   string `yaml:"value"` // hex
}

// Expect checks peripheral state. Unset fields are not checked.
type Expect struct {
	State         string             `yaml:"state,omitempty"`
	Advertising   *bool              `yaml:"advertising,omitempty"`
	Subscribers   *[]string          `yaml:"subscribers,omitempty"`
	Notifications map[string]int     `yaml:"notifications,omitempty"`
	Payload       map[string]float64 `yaml:"payload,omitempty"`
	Read          map[string]float64 `yaml:"read,omitempty"`
}

// LoadScenario parses a YAML scenario.
func LoadScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q has no steps", s.Name)
	}
	return &s, nil
}

// LoadScenarioFile reads and parses a YAML scenario file.
func LoadScenarioFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return LoadScenario(data)
}

// Runner drives a Controller wired to a Radio.
type Runner struct {
	logger *logrus.Logger
	out    io.Writer

	radio    *Radio
	gatt     *peripheral.GattService
	ctrl     *peripheral.Controller
	centrals map[string]*Central
	lastRead []byte
}

// NewRunner builds a fresh peripheral stack; out receives the transcript.
func NewRunner(logger *logrus.Logger, out io.Writer) *Runner {
	if logger == nil {
		logger = logrus.New()
	}
	if out == nil {
		out = io.Discard
	}

	radio := NewRadio(logger)
	gatt := peripheral.NewGattService(peripheral.DefaultDefinition(), logger)
	settings := peripheral.DefaultAdvertiseSettings()
	settings.Settle = 10 * time.Millisecond
	adv := peripheral.NewAdvertiseController("blemote-sim", settings, logger)
	factory := func() (peripheral.Adapter, error) { return radio, nil }

	return &Runner{
		logger:   logger,
		out:      out,
		radio:    radio,
		gatt:     gatt,
		ctrl:     peripheral.NewController(factory, gatt, adv, logger),
		centrals: map[string]*Central{},
	}
}

func (r *Runner) Radio() *Radio {
	return r.radio
}

func (r *Runner) Controller() *peripheral.Controller {
	return r.ctrl
}

// Run executes every step. Failed expectations are collected and returned
// together; any other step error aborts the run.
func (r *Runner) Run(s *Scenario) error {
	defer func() { _ = r.ctrl.Deactivate() }()

	if s.Name != "" {
		fmt.Fprintf(r.out, "scenario: %s\n", s.Name)
	}

	var failures []error
	for i, step := range s.Steps {
		n := i + 1
		err := r.step(n, step)
		switch {
		case err == nil:
		case errors.Is(err, ErrExpectation):
			fmt.Fprintf(r.out, "%3d  FAIL     %v\n", n, err)
			failures = append(failures, err)
		default:
			return fmt.Errorf("step %d: %w", n, err)
		}
	}
	return errors.Join(failures...)
}

func (r *Runner) step(n int, st Step) error {
	switch {
	case st.Adapter != "":
		state, err := peripheral.ParseAdapterState(st.Adapter)
		if err != nil {
			return err
		}
		r.ctrl.OnAdapterState(state)
		r.logf(n, "adapter", "%s -> %s", state, r.ctrl.State())

	case st.FailAdvertising != nil:
		var err error
		if *st.FailAdvertising != "" {
			err = errors.New(*st.FailAdvertising)
		}
		r.radio.FailAdvertising(err)
		r.logf(n, "inject", "advertising failure %q", *st.FailAdvertising)

	case st.Connect != "":
		c, err := r.radio.Connect(st.Connect)
		if err != nil {
			return err
		}
		r.centrals[st.Connect] = c
		r.logf(n, "connect", "%s", st.Connect)

	case st.Disconnect != "":
		c, err := r.central(st.Disconnect)
		if err != nil {
			return err
		}
		c.Disconnect()
		r.logf(n, "disconnect", "%s", st.Disconnect)

	case st.Subscribe != "":
		c, err := r.central(st.Subscribe)
		if err != nil {
			return err
		}
		if err := c.Subscribe(); err != nil {
			return err
		}
		r.logf(n, "subscribe", "%s", st.Subscribe)

	case st.Unsubscribe != "":
		c, err := r.central(st.Unsubscribe)
		if err != nil {
			return err
		}
		if err := c.Unsubscribe(); err != nil {
			return err
		}
		r.logf(n, "unsubscribe", "%s", st.Unsubscribe)

	case st.WriteCCCD != nil:
		c, err := r.central(st.WriteCCCD.Central)
		if err != nil {
			return err
		}
		value, err := hex.DecodeString(strings.ReplaceAll(st.WriteCCCD.Value, " ", ""))
		if err != nil {
			return fmt.Errorf("invalid CCCD value %q: %w", st.WriteCCCD.Value, err)
		}
		rsp, _, err := c.WriteDescriptor(peripheral.CCCDUUID, value, true)
		if err != nil {
			return err
		}
		r.logf(n, "write_cccd", "%s % x -> %s", st.WriteCCCD.Central, value, statusName(rsp.Status))

	case st.Read != "":
		c, err := r.central(st.Read)
		if err != nil {
			return err
		}
		rsp, err := c.ReadCharacteristic(peripheral.DefaultCharacteristicUUID)
		if err != nil {
			return err
		}
		r.lastRead = rsp.Value
		r.logf(n, "read", "%s -> %s %x", st.Read, statusName(rsp.Status), rsp.Value)

	case len(st.Publish) > 0:
		names := make([]string, 0, len(st.Publish))
		for name := range st.Publish {
			names = append(names, name)
		}
		sort.Strings(names)

		samples := make([]payload.Sample, 0, len(names))
		for _, name := range names {
			samples = append(samples, payload.FieldValue{Name: name, Value: st.Publish[name]})
		}
		sent, err := r.ctrl.Publish(samples...)
		if err != nil {
			return err
		}
		r.logf(n, "publish", "%v -> %d notified", samples, sent)

	case st.Expect != nil:
		if err := r.expect(st.Expect); err != nil {
			return fmt.Errorf("%w: step %d: %v", ErrExpectation, n, err)
		}
		r.logf(n, "expect", "ok")

	default:
		return fmt.Errorf("empty step")
	}
	return nil
}

func (r *Runner) expect(e *Expect) error {
	var problems []string
	mismatch := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if e.State != "" && e.State != r.ctrl.State().String() {
		mismatch("state=%s, want %s", r.ctrl.State(), e.State)
	}
	if e.Advertising != nil {
		_, on := r.radio.Advertising()
		if on != *e.Advertising {
			mismatch("advertising=%t, want %t", on, *e.Advertising)
		}
	}
	if e.Subscribers != nil {
		var got []string
		for _, dev := range r.gatt.Subscribers() {
			got = append(got, string(dev))
		}
		want := append([]string(nil), (*e.Subscribers)...)
		sort.Strings(got)
		sort.Strings(want)
		if strings.Join(got, ",") != strings.Join(want, ",") {
			mismatch("subscribers=%v, want %v", got, want)
		}
	}
	for addr, want := range e.Notifications {
		c, ok := r.centrals[addr]
		if !ok {
			mismatch("unknown central %s", addr)
			continue
		}
		if got := len(c.Notifications()); got != want {
			mismatch("%s received %d notifications, want %d", addr, got, want)
		}
	}
	if len(e.Payload) > 0 {
		buf, _ := payload.Decode(r.gatt.Snapshot())
		compareFields(buf, e.Payload, "payload", mismatch)
	}
	if len(e.Read) > 0 {
		buf, err := payload.Decode(r.lastRead)
		if err != nil {
			mismatch("last read: %v", err)
		} else {
			compareFields(buf, e.Read, "read", mismatch)
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func compareFields(buf *payload.Buffer, want map[string]float64, what string, mismatch func(string, ...any)) {
	for name, v := range want {
		spec, err := payload.Lookup(name)
		if err != nil {
			mismatch("%s: %v", what, err)
			continue
		}
		got, _ := buf.Value(spec.Field)
		if float32(got) != float32(v) {
			mismatch("%s.%s=%g, want %g", what, name, got, v)
		}
	}
}

func (r *Runner) central(addr string) (*Central, error) {
	c, ok := r.centrals[addr]
	if !ok {
		return nil, fmt.Errorf("central %s never connected", addr)
	}
	return c, nil
}

func (r *Runner) logf(n int, action, format string, args ...any) {
	fmt.Fprintf(r.out, "%3d  %-11s %s\n", n, action, fmt.Sprintf(format, args...))
}

func statusName(status ble.ATTError) string {
	if status == ble.ErrSuccess {
		return "success"
	}
	return fmt.Sprintf("status 0x%02x", uint8(status))
}

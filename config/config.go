package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"bandlight/acquisition"
	"bandlight/actuator"
	"bandlight/dsp"
	"bandlight/loop"
	"bandlight/pipeline"
	"bandlight/recording"
	"bandlight/types"
	"bandlight/utils"
)

const (
	EnvPrefix          = "BANDLIGHT_"
	PropertiesEnv      = "BANDLIGHT_PROPERTIES_PATH"
	DefaultProperties  = "bandlight.properties"
	propertiesFlagName = "properties"
)

// Board kinds.
const (
	BoardSynthetic = "synthetic"
	BoardEDF       = "edf"
)

// Actuator kinds.
const (
	ActuatorSerial = "serial"
	ActuatorMQTT   = "mqtt"
	ActuatorNone   = "none"
)

// Config holds every operator setting. Values are layered: defaults, then
// the properties file, then BANDLIGHT_* environment variables, then flags.
type Config struct {
	Board     string
	BoardFile string // EDF file for the edf board
	Synthetic acquisition.SyntheticConfig

	WindowLength int
	Threshold    float64
	Band         types.Band
	ReportBands  []types.Band
	Denoise      bool
	ScaleFactor  float64
	Cadence      string
	Interval     time.Duration

	Actuator string
	Serial   actuator.SerialConfig
	MQTT     actuator.MQTTConfig

	LogPath     string
	LogLevel    int
	HistoryPath string // empty disables history
	RecordPath  string // empty disables EDF export during run
	HTTPAddr    string // empty disables the status server

	PropertiesPath string
}

func Default() *Config {
	return &Config{
		Board:        BoardSynthetic,
		Synthetic:    acquisition.DefaultSyntheticConfig(),
		WindowLength: loop.DefaultConfig().WindowLength,
		Threshold:    pipeline.DefaultThreshold,
		Band:         types.Alpha,
		ScaleFactor:  1,
		Cadence:      loop.CadenceWindow,
		Interval:     time.Second,
		Actuator:     ActuatorSerial,
		Serial:       actuator.DefaultSerialConfig(),
		MQTT:         actuator.DefaultMQTTConfig(),
		LogPath:      "error.log",
		LogLevel:     utils.WARN,
		HistoryPath:  "bandlight.db",
	}
}

// setting binds one key to a Config field. The key is used verbatim in the
// properties file, upper-cased with dots as underscores after BANDLIGHT_ in
// the environment, and with dots as dashes on the command line.
type setting struct {
	key   string
	usage string
	set   func(c *Config, v string) error
}

var settings = []setting{
	{"board", "acquisition board: synthetic or edf", func(c *Config, v string) error {
		c.Board = strings.ToLower(v)
		return nil
	}},
	{"board.channels", "synthetic board channel count", intSetting(func(c *Config) *int { return &c.Synthetic.Channels })},
	{"board.rate", "synthetic board sampling rate in Hz", floatSetting(func(c *Config) *float64 { return &c.Synthetic.SamplingRate })},
	{"board.tones", "synthetic tones as hz:amplitude pairs, comma separated", func(c *Config, v string) error {
		tones, err := parseTones(v)
		if err != nil {
			return err
		}
		c.Synthetic.Tones = tones
		return nil
	}},
	{"board.noise", "synthetic noise amplitude", floatSetting(func(c *Config) *float64 { return &c.Synthetic.Noise })},
	{"window.length", "samples per channel per iteration", intSetting(func(c *Config) *int { return &c.WindowLength })},
	{"threshold", "band power above which the light turns on", floatSetting(func(c *Config) *float64 { return &c.Threshold })},
	{"band", "decision band: delta, theta, alpha, beta or gamma", func(c *Config, v string) error {
		b, ok := types.BandByName(v)
		if !ok {
			return fmt.Errorf("unknown band %q", v)
		}
		c.Band = b
		return nil
	}},
	{"report.bands", "extra bands reported on the status line, comma separated, or all", func(c *Config, v string) error {
		bands, err := parseBands(v)
		if err != nil {
			return err
		}
		c.ReportBands = bands
		return nil
	}},
	{"denoise", "apply wavelet artifact removal", boolSetting(func(c *Config) *bool { return &c.Denoise })},
	{"scale.factor", "multiplier applied to raw samples", floatSetting(func(c *Config) *float64 { return &c.ScaleFactor })},
	{"cadence", "iteration pacing: window or fixed", func(c *Config, v string) error {
		c.Cadence = strings.ToLower(v)
		return nil
	}},
	{"cadence.interval", "sleep between iterations for the fixed cadence", durationSetting(func(c *Config) *time.Duration { return &c.Interval })},
	{"actuator", "light transport: serial, mqtt or none", func(c *Config, v string) error {
		c.Actuator = strings.ToLower(v)
		return nil
	}},
	{"actuator.port", "serial port of the light", stringSetting(func(c *Config) *string { return &c.Serial.Port })},
	{"actuator.baud", "serial baud rate", intSetting(func(c *Config) *int { return &c.Serial.BaudRate })},
	{"actuator.timeout", "serial write timeout", durationSetting(func(c *Config) *time.Duration { return &c.Serial.WriteTimeout })},
	{"actuator.settle", "wait after opening the serial port", durationSetting(func(c *Config) *time.Duration { return &c.Serial.Settle })},
	{"mqtt.broker", "MQTT broker URL", stringSetting(func(c *Config) *string { return &c.MQTT.Broker })},
	{"mqtt.topic", "MQTT topic for light states", stringSetting(func(c *Config) *string { return &c.MQTT.Topic })},
	{"mqtt.client", "MQTT client id", stringSetting(func(c *Config) *string { return &c.MQTT.ClientID })},
	{"log.path", "error log file", stringSetting(func(c *Config) *string { return &c.LogPath })},
	{"log.level", "minimum level written to the error log", func(c *Config, v string) error {
		lvl, err := utils.ParseLevel(v)
		if err != nil {
			return err
		}
		c.LogLevel = lvl
		return nil
	}},
	{"history.path", "SQLite history database, empty to disable", stringSetting(func(c *Config) *string { return &c.HistoryPath })},
	{"record.path", "EDF file receiving raw windows, empty to disable", stringSetting(func(c *Config) *string { return &c.RecordPath })},
	{"http.addr", "status server address, empty to disable", stringSetting(func(c *Config) *string { return &c.HTTPAddr })},
}

// Load builds a Config for one command invocation and returns the
// positional arguments left after the flags. lookup reads the environment;
// os.LookupEnv is used when it is nil.
func Load(name string, args []string, lookup func(string) (string, bool), stderr io.Writer) (*Config, []string, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if stderr != nil {
		fs.SetOutput(stderr)
	}
	flags := map[string]string{}
	for _, s := range settings {
		key := s.key
		fs.Func(flagName(key), s.usage, func(v string) error {
			flags[key] = v
			return nil
		})
	}
	propsFlag := fs.String(propertiesFlagName, "", "properties file (default "+DefaultProperties+")")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	cfg := Default()

	cfg.PropertiesPath = DefaultProperties
	explicit := false
	if v, ok := lookup(PropertiesEnv); ok && v != "" {
		cfg.PropertiesPath, explicit = v, true
	}
	if *propsFlag != "" {
		cfg.PropertiesPath, explicit = *propsFlag, true
	}
	props, err := readProperties(cfg.PropertiesPath)
	if err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, nil, err
		}
		props = nil
	}

	for _, s := range settings {
		if v, ok := props[s.key]; ok {
			if err := s.set(cfg, v); err != nil {
				return nil, nil, fmt.Errorf("%s: %s: %w", cfg.PropertiesPath, s.key, err)
			}
		}
	}
	for _, s := range settings {
		if v, ok := lookup(envName(s.key)); ok && v != "" {
			if err := s.set(cfg, v); err != nil {
				return nil, nil, fmt.Errorf("%s: %w", envName(s.key), err)
			}
		}
	}
	for _, s := range settings {
		if v, ok := flags[s.key]; ok {
			if err := s.set(cfg, v); err != nil {
				return nil, nil, fmt.Errorf("-%s: %w", flagName(s.key), err)
			}
		}
	}

	return cfg, fs.Args(), nil
}

func (c *Config) Validate() error {
	switch c.Board {
	case BoardSynthetic:
		if err := c.Synthetic.Validate(); err != nil {
			return err
		}
	case BoardEDF:
		if c.BoardFile == "" {
			return errors.New("edf board needs a recording file")
		}
	default:
		return fmt.Errorf("unknown board %q", c.Board)
	}
	switch c.Actuator {
	case ActuatorSerial:
		if c.Serial.Port == "" {
			return errors.New("serial actuator needs actuator.port")
		}
		if c.Serial.BaudRate <= 0 {
			return fmt.Errorf("invalid baud rate %d", c.Serial.BaudRate)
		}
	case ActuatorMQTT:
		if c.MQTT.Broker == "" || c.MQTT.Topic == "" {
			return errors.New("mqtt actuator needs mqtt.broker and mqtt.topic")
		}
	case ActuatorNone:
	default:
		return fmt.Errorf("unknown actuator %q", c.Actuator)
	}
	if c.ScaleFactor == 0 {
		return errors.New("scale.factor must not be zero")
	}
	if c.LogPath == "" {
		return errors.New("log.path must not be empty")
	}
	if err := c.Pipeline().Validate(); err != nil {
		return err
	}
	return c.Loop().Validate()
}

func (c *Config) Pipeline() pipeline.Config {
	pre := dsp.DefaultPreprocessConfig()
	pre.ScaleFactor = c.ScaleFactor
	pre.Denoise = c.Denoise
	return pipeline.Config{
		DecisionBand: c.Band,
		ReportBands:  c.ReportBands,
		Threshold:    c.Threshold,
		Preprocess:   pre,
	}
}

func (c *Config) Loop() loop.Config {
	src := c.Board
	if c.Board == BoardEDF {
		src = c.BoardFile
	}
	return loop.Config{
		WindowLength: c.WindowLength,
		Cadence:      c.Cadence,
		Interval:     c.Interval,
		Source:       src,
	}
}

func (c *Config) Recording() recording.Config {
	return recording.DefaultConfig()
}

// NewBoard returns the configured acquisition board.
func (c *Config) NewBoard() (acquisition.Board, error) {
	switch c.Board {
	case BoardSynthetic:
		return acquisition.NewSyntheticBoard(c.Synthetic), nil
	case BoardEDF:
		return acquisition.NewEDFBoard(c.BoardFile), nil
	}
	return nil, fmt.Errorf("unknown board %q", c.Board)
}

// NewActuator returns the configured light transport.
func (c *Config) NewActuator() (actuator.Opener, error) {
	switch c.Actuator {
	case ActuatorSerial:
		return actuator.NewSerialOpener(c.Serial), nil
	case ActuatorMQTT:
		return actuator.NewMQTTOpener(c.MQTT), nil
	case ActuatorNone:
		return actuator.Nop{}, nil
	}
	return nil, fmt.Errorf("unknown actuator %q", c.Actuator)
}

func readProperties(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open properties file %s: %w", path, err)
	}
	defer file.Close()

	known := map[string]bool{}
	for _, s := range settings {
		known[s.key] = true
	}

	props := map[string]string{}
	s := bufio.NewScanner(file)
	for n := 1; s.Scan(); n++ {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected key=value", path, n)
		}
		k = strings.TrimSpace(k)
		if !known[k] {
			return nil, fmt.Errorf("%s:%d: unknown key %q", path, n, k)
		}
		props[k] = strings.TrimSpace(v)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return props, nil
}

func envName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func flagName(key string) string {
	return strings.ReplaceAll(key, ".", "-")
}

func parseTones(v string) ([]acquisition.Tone, error) {
	var tones []acquisition.Tone
	for _, p := range splitAndTrim(v, ",") {
		hz, amp, ok := strings.Cut(p, ":")
		if !ok {
			return nil, fmt.Errorf("tone %q is not hz:amplitude", p)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(hz), 64)
		if err != nil {
			return nil, fmt.Errorf("tone %q: %w", p, err)
		}
		a, err := strconv.ParseFloat(strings.TrimSpace(amp), 64)
		if err != nil {
			return nil, fmt.Errorf("tone %q: %w", p, err)
		}
		tones = append(tones, acquisition.Tone{Hz: f, Amplitude: a})
	}
	return tones, nil
}

func parseBands(v string) ([]types.Band, error) {
	if strings.EqualFold(strings.TrimSpace(v), "all") {
		return types.DefaultBands(), nil
	}
	var bands []types.Band
	for _, name := range splitAndTrim(v, ",") {
		b, ok := types.BandByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown band %q", name)
		}
		bands = append(bands, b)
	}
	return bands, nil
}

func stringSetting(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func intSetting(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		i, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = i
		return nil
	}
}

func floatSetting(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

func boolSetting(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func durationSetting(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func splitAndTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

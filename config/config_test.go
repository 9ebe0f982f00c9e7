package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bandlight/acquisition"
	"bandlight/actuator"
	"bandlight/loop"
	"bandlight/types"
	"bandlight/utils"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeProperties(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bandlight.properties")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, rest, err := Load("run", nil, env(nil), io.Discard)
	require.NoError(t, err)
	assert.Empty(t, rest)

	assert.Equal(t, BoardSynthetic, cfg.Board)
	assert.Equal(t, 256, cfg.WindowLength)
	assert.Equal(t, 10.0, cfg.Threshold)
	assert.Equal(t, types.Alpha, cfg.Band)
	assert.Equal(t, loop.CadenceWindow, cfg.Cadence)
	assert.Equal(t, ActuatorSerial, cfg.Actuator)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Serial.Port)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, 3*time.Second, cfg.Serial.WriteTimeout)
	assert.Equal(t, "error.log", cfg.LogPath)
	assert.Equal(t, utils.WARN, cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLayering(t *testing.T) {
	path := writeProperties(t, `# comment
// another comment
threshold = 12.5
band=beta
window.length=512
actuator=mqtt
mqtt.topic=lab/light
`)
	vars := map[string]string{
		PropertiesEnv:          path,
		"BANDLIGHT_THRESHOLD":  "15",
		"BANDLIGHT_MQTT_TOPIC": "env/light",
	}
	cfg, rest, err := Load("run", []string{"-mqtt-topic", "flag/light", "extra"}, env(vars), io.Discard)
	require.NoError(t, err)

	assert.Equal(t, []string{"extra"}, rest)
	assert.Equal(t, 15.0, cfg.Threshold, "env overrides the file")
	assert.Equal(t, "flag/light", cfg.MQTT.Topic, "flags override env")
	assert.Equal(t, types.Beta, cfg.Band)
	assert.Equal(t, 512, cfg.WindowLength)
	assert.Equal(t, ActuatorMQTT, cfg.Actuator)
	assert.Equal(t, path, cfg.PropertiesPath)
	assert.NoError(t, cfg.Validate())
}

func TestPropertiesFlagBeatsEnv(t *testing.T) {
	fromEnv := writeProperties(t, "threshold=1\n")
	fromFlag := writeProperties(t, "threshold=2\n")

	cfg, _, err := Load("run", []string{"-properties", fromFlag}, env(map[string]string{PropertiesEnv: fromEnv}), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 2.0, cfg.Threshold)
}

func TestMissingProperties(t *testing.T) {
	_, _, err := Load("run", nil, env(nil), io.Discard)
	assert.NoError(t, err, "a missing default file is ignored")

	_, _, err = Load("run", []string{"-properties", "nope.properties"}, env(nil), io.Discard)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPropertiesErrors(t *testing.T) {
	for name, content := range map[string]string{
		"no equals":   "threshold\n",
		"unknown key": "colour=red\n",
		"bad value":   "window.length=many\n",
		"bad band":    "band=mu\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := writeProperties(t, content)
			_, _, err := Load("run", []string{"-properties", path}, env(nil), io.Discard)
			assert.Error(t, err)
		})
	}
}

func TestParsedSettings(t *testing.T) {
	args := []string{
		"-board-tones", "10:20, 22:5",
		"-report-bands", "all",
		"-denoise", "true",
		"-cadence", "fixed",
		"-cadence-interval", "1500ms",
		"-log-level", "debug",
		"-actuator-settle", "0s",
	}
	cfg, _, err := Load("run", args, env(nil), io.Discard)
	require.NoError(t, err)

	assert.Equal(t, []acquisition.Tone{{Hz: 10, Amplitude: 20}, {Hz: 22, Amplitude: 5}}, cfg.Synthetic.Tones)
	assert.Equal(t, types.DefaultBands(), cfg.ReportBands)
	assert.True(t, cfg.Denoise)
	assert.Equal(t, 1500*time.Millisecond, cfg.Interval)
	assert.Equal(t, utils.DEBUG, cfg.LogLevel)
	assert.Zero(t, cfg.Serial.Settle)

	lc := cfg.Loop()
	assert.Equal(t, loop.CadenceFixed, lc.Cadence)
	assert.Equal(t, 1500*time.Millisecond, lc.Interval)
	assert.Equal(t, BoardSynthetic, lc.Source)

	pc := cfg.Pipeline()
	assert.True(t, pc.Preprocess.Denoise)
	assert.Equal(t, types.Alpha, pc.DecisionBand)
	assert.Len(t, pc.ReportBands, 5)
}

func TestReportBandList(t *testing.T) {
	cfg, _, err := Load("run", []string{"-report-bands", "theta, gamma"}, env(nil), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, []types.Band{types.Theta, types.Gamma}, cfg.ReportBands)

	_, _, err = Load("run", []string{"-report-bands", "theta,mu"}, env(nil), io.Discard)
	assert.Error(t, err)
}

func TestBadFlag(t *testing.T) {
	_, _, err := Load("run", []string{"-no-such-flag"}, env(nil), io.Discard)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"unknown board":       func(c *Config) { c.Board = "cyton" },
		"edf without file":    func(c *Config) { c.Board = BoardEDF },
		"bad synthetic":       func(c *Config) { c.Synthetic.Channels = 0 },
		"unknown actuator":    func(c *Config) { c.Actuator = "zigbee" },
		"serial without port": func(c *Config) { c.Serial.Port = "" },
		"mqtt without topic":  func(c *Config) { c.Actuator = ActuatorMQTT; c.MQTT.Topic = "" },
		"zero scale":          func(c *Config) { c.ScaleFactor = 0 },
		"zero window":         func(c *Config) { c.WindowLength = 0 },
		"unknown cadence":     func(c *Config) { c.Cadence = "sometimes" },
		"no log path":         func(c *Config) { c.LogPath = "" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestFactories(t *testing.T) {
	cfg := Default()

	board, err := cfg.NewBoard()
	require.NoError(t, err)
	assert.IsType(t, &acquisition.SyntheticBoard{}, board)

	cfg.Board, cfg.BoardFile = BoardEDF, "session.edf"
	board, err = cfg.NewBoard()
	require.NoError(t, err)
	assert.IsType(t, &acquisition.EDFBoard{}, board)
	assert.Equal(t, "session.edf", cfg.Loop().Source)

	for kind, want := range map[string]any{
		ActuatorSerial: &actuator.SerialOpener{},
		ActuatorMQTT:   &actuator.MQTTOpener{},
		ActuatorNone:   actuator.Nop{},
	} {
		cfg.Actuator = kind
		op, err := cfg.NewActuator()
		require.NoError(t, err)
		assert.IsType(t, want, op, kind)
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, "BANDLIGHT_CADENCE_INTERVAL", envName("cadence.interval"))
	assert.Equal(t, "report-bands", flagName("report.bands"))
}

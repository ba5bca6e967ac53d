package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/health-steps/internal/model"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"run", "status", "reset"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "health-steps", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)

	flag := rootCmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "", flag.DefValue)
}

func TestRunCommand_Flags(t *testing.T) {
	flag := runCmd.Flags().Lookup("force")
	require.NotNil(t, flag, "run command should have --force flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestStatusCommand_Flags(t *testing.T) {
	flag := statusCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "10", flag.DefValue)
}

func TestFormatRuns(t *testing.T) {
	started := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	completed := started.Add(1500 * time.Millisecond)
	runs := []model.RunRecord{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			Status:      model.RunStatusComplete,
			Digest:      "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
			Records:     3,
			Days:        1,
			StartedAt:   started,
			CompletedAt: &completed,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Status:    model.RunStatusFailed,
			Error:     "publish /datasites/alice/api_data/health_steps_counter/health_steps_counter.json: permission denied",
			StartedAt: started.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRuns(&buf, runs)
	out := buf.String()

	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "abc12345 ")
	assert.Contains(t, out, "def12345 ")
	assert.NotContains(t, out, "abc12...")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "9f86d0818...")
	assert.Contains(t, out, "2024-03-02 09:00")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "...")
}

func TestFormatFingerprint(t *testing.T) {
	var buf bytes.Buffer
	formatFingerprint(&buf, nil)
	assert.Contains(t, buf.String(), "none")

	buf.Reset()
	formatFingerprint(&buf, &model.Fingerprint{
		Hash:      "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		Timestamp: time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC),
	})
	assert.Contains(t, buf.String(), "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08")
	assert.Contains(t, buf.String(), "2024-03-02T09:00:00Z")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "", truncateID(""))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}

const cliExport = `<?xml version="1.0" encoding="UTF-8"?>
<HealthData locale="en_US">
 <Record type="HKQuantityTypeIdentifierStepCount" creationDate="2024-03-01 08:20:00 -0800" startDate="2024-03-01 08:00:00 -0800" endDate="2024-03-01 08:10:00 -0800" value="100"/>
 <Record type="HKQuantityTypeIdentifierStepCount" creationDate="2024-03-01 12:20:00 -0800" startDate="2024-03-01 12:00:00 -0800" endDate="2024-03-01 12:10:00 -0800" value="200"/>
</HealthData>
`

func writeCLIConfig(t *testing.T, dir, driver string) string {
	t.Helper()
	export := filepath.Join(dir, "export.xml")
	require.NoError(t, os.WriteFile(export, []byte(cliExport), 0o644))

	yaml := "api_name: health_steps_counter\n" +
		"aggregator_datasite: aggregator@openmined.org\n" +
		"filepath: " + export + "\n" +
		"parameters:\n" +
		"  type: HKQuantityTypeIdentifierStepCount\n" +
		"  epsilon: 1\n" +
		"  bounds: auto-local\n" +
		"store:\n" +
		"  driver: " + driver + "\n" +
		"  dir: " + filepath.Join(dir, "hashes") + "\n" +
		"datasite:\n" +
		"  root: " + filepath.Join(dir, "SyftBox") + "\n" +
		"  email: alice@openmined.org\n" +
		"log:\n" +
		"  level: error\n" +
		"  format: console\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestCLI_RunStatusReset(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			dir := t.TempDir()
			cfgPath := writeCLIConfig(t, dir, driver)

			out, err := execute(t, "run", "--config", cfgPath)
			require.NoError(t, err)
			assert.Contains(t, out, `"skipped": false`)
			_, err = os.Stat(filepath.Join(dir, "SyftBox", "datasites", "alice@openmined.org",
				"api_data", "health_steps_counter", "health_steps_counter.json"))
			assert.NoError(t, err)

			out, err = execute(t, "run", "--config", cfgPath)
			require.NoError(t, err)
			assert.Contains(t, out, `"skipped": true`)

			out, err = execute(t, "status", "--config", cfgPath)
			require.NoError(t, err)
			assert.Contains(t, out, "Next run:     skip")
			assert.Contains(t, out, "complete")
			assert.Contains(t, out, "skipped")

			out, err = execute(t, "reset", "--config", cfgPath)
			require.NoError(t, err)
			assert.Contains(t, out, "Fingerprint cleared.")

			out, err = execute(t, "status", "--config", cfgPath)
			require.NoError(t, err)
			assert.Contains(t, out, "Fingerprint:  none")
			assert.Contains(t, out, "Next run:     process")
		})
	}
}

func TestCLI_RunRejectsBadEpsilon(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeCLIConfig(t, dir, "file")
	t.Setenv("HEALTHSTEPS_PARAMETERS_EPSILON", "0")

	_, err := execute(t, "run", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parameters.epsilon must be positive")

	_, statErr := os.Stat(filepath.Join(dir, "hashes"))
	assert.True(t, os.IsNotExist(statErr), "no store I/O before validation")
}

func TestCLI_MissingConfigFile(t *testing.T) {
	_, err := execute(t, "status", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

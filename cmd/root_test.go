package cmd

import (
	"bytes"
	"context"
	"database/sql"
	stderrors "errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"parcelhub/internal/config"
	"parcelhub/internal/testutil"
	"parcelhub/internal/ui"
	"parcelhub/internal/warehouse"
	"parcelhub/pkg/errors"
)

var catalogSteps = []string{
	"dim_hub", "dim_parcel", "dim_route",
	"fact_parcel_events", "vw_daily_route_performance", "vw_parcel_event_sequence",
}

// execute runs a fresh command tree and returns what it wrote to stdout and
// stderr
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--no-color"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// setupEnv exports a complete configuration pointing at fresh data and SQL
// directories and returns the credentials path
func setupEnv(t *testing.T, dataDir, sqlDir string) string {
	t.Helper()
	h := testutil.NewTestHelper(t)
	creds := h.WriteFile(t.TempDir(), "credentials.yaml",
		"driver: snowflake\naccount: xy12345\nuser: etl\npassword: hunter2\n")

	h.MockEnv("PARCELHUB_CREDENTIALS_PATH", creds)
	h.MockEnv("PARCELHUB_DATA_DIR", dataDir)
	h.MockEnv("PARCELHUB_SQL_DIR", sqlDir)
	h.MockEnv("PARCELHUB_PROJECT", "analytics")
	h.MockEnv("PARCELHUB_LOG_FORMAT", "text")
	return creds
}

func useGateway(t *testing.T, gw warehouse.Gateway, err error) {
	t.Helper()
	previous := connectGateway
	connectGateway = func(context.Context, warehouse.Credentials, warehouse.Options) (warehouse.Gateway, error) {
		if err != nil {
			return nil, err
		}
		return gw, nil
	}
	t.Cleanup(func() { connectGateway = previous })
}

func TestRootCommandHelp(t *testing.T) {
	out, _, err := execute(t, "", "--help")
	require.NoError(t, err)

	assert.Contains(t, out, "Available Commands:")
	for _, sub := range []string{"dates", "catalog", "check", "encrypt-password", "version"} {
		assert.Contains(t, out, sub)
	}
	assert.Contains(t, out, "--processing_date")
	assert.Contains(t, out, "--run")
}

func TestInvalidCommand(t *testing.T) {
	_, _, err := execute(t, "", "invalid-command")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "parcelhub version dev")
}

func TestRunRejectsArgumentsBeforeConfiguration(t *testing.T) {
	gw := testutil.NewMockGateway()
	useGateway(t, gw, nil)

	tests := []struct {
		name string
		args []string
	}{
		{"impossible date", []string{"--processing_date", "2025-13-40"}},
		{"wrong layout", []string{"--processing_date", "01/01/2025"}},
		{"unknown mode", []string{"--run", "load"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// No configuration is exported at all
			_, _, err := execute(t, "", tt.args...)
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetErrorCode(err))
		})
	}
	assert.Empty(t, gw.LoadedTables())
	assert.Zero(t, gw.QueryCount())
}

func TestRunMissingConfiguration(t *testing.T) {
	for _, key := range []string{"CREDENTIALS_PATH", "DATA_DIR", "SQL_DIR", "PROJECT"} {
		t.Setenv("PARCELHUB_"+key, "")
	}

	_, _, err := execute(t, "", "--processing_date", "2025-01-01")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetErrorCode(err))
	assert.Contains(t, err.Error(), "PARCELHUB_CREDENTIALS_PATH")
	assert.Contains(t, err.Error(), "PARCELHUB_PROJECT")
}

func TestRunSucceeds(t *testing.T) {
	h := testutil.NewTestHelper(t)
	setupEnv(t, h.WriteDataDir("20250101", "20250102"), h.WriteSQLDir(catalogSteps...))
	gw := testutil.NewMockGateway()
	useGateway(t, gw, nil)

	out, logs, err := execute(t, "", "--processing_date", "2025-01-02")
	require.NoError(t, err)

	assert.Contains(t, out, "dates=2025-01-02")
	assert.Contains(t, out, "SUCCESS: 10 succeeded, 0 failed, 0 skipped, 11 rows loaded")
	assert.Len(t, gw.LoadedTables(), 4)
	assert.Equal(t, len(catalogSteps), gw.QueryCount())
	assert.True(t, gw.Closed, "the warehouse session should be closed")
	assert.Contains(t, logs, "Run finished")
}

func TestRunIngestOnly(t *testing.T) {
	h := testutil.NewTestHelper(t)
	setupEnv(t, h.WriteDataDir("20250101"), h.WriteSQLDir(catalogSteps...))
	gw := testutil.NewMockGateway()
	useGateway(t, gw, nil)

	out, logs, err := execute(t, "", "--run", "ingest", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "mode=ingest")
	assert.NotContains(t, logs, "Starting run", "--log-level overrides the configured level")
	assert.Len(t, gw.LoadedTables(), 4)
	assert.Zero(t, gw.QueryCount())
}

func TestRunReportsFailures(t *testing.T) {
	h := testutil.NewTestHelper(t)
	setupEnv(t, h.WriteDataDir("20250101"), h.WriteSQLDir(catalogSteps...))
	gw := testutil.NewMockGateway().FailQuery("dim_route", stderrors.New("syntax error at line 1"))
	useGateway(t, gw, nil)

	out, _, err := execute(t, "")
	require.ErrorIs(t, err, errRunFailed)
	assert.Contains(t, out, "FAILED: 6 succeeded, 1 failed, 3 skipped")
	assert.Contains(t, out, "SKIPPED")
}

func TestRunConnectionFailure(t *testing.T) {
	h := testutil.NewTestHelper(t)
	setupEnv(t, h.WriteDataDir("20250101"), h.WriteSQLDir(catalogSteps...))
	useGateway(t, nil, errors.ConnectionError("Failed to connect to snowflake", stderrors.New("connection refused")))

	out, _, err := execute(t, "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConnectionFailed, errors.GetErrorCode(err))
	assert.Empty(t, out, "no summary is printed when the session cannot be opened")
}

// Runs the whole pipeline against a SQLite file with scripts written for it
func TestRunEndToEndSQLite(t *testing.T) {
	h := testutil.NewTestHelper(t)
	dbPath := filepath.Join(t.TempDir(), "warehouse.db")

	sqlDir := t.TempDir()
	scripts := map[string]string{
		"dim_hub": `DROP TABLE IF EXISTS "{{warehouse_dataset}}__dim_hub";
CREATE TABLE "{{warehouse_dataset}}__dim_hub" AS
SELECT hub_id, name, city FROM "{{staging_dataset}}__stg_hubs";`,
		"dim_parcel": `DROP TABLE IF EXISTS "{{warehouse_dataset}}__dim_parcel";
CREATE TABLE "{{warehouse_dataset}}__dim_parcel" AS
SELECT parcel_id, origin_hub, destination_hub, weight_kg FROM "{{staging_dataset}}__stg_parcels_{{date_tag}}";`,
		"dim_route": `DROP TABLE IF EXISTS "{{warehouse_dataset}}__dim_route";
CREATE TABLE "{{warehouse_dataset}}__dim_route" AS
SELECT r.route_id, r.origin_hub, r.destination_hub, CAST(r.distance_km AS REAL) AS distance_km
FROM "{{staging_dataset}}__stg_routes" r
JOIN "{{warehouse_dataset}}__dim_hub" h ON h.hub_id = r.origin_hub;`,
		"fact_parcel_events": `DROP TABLE IF EXISTS "{{warehouse_dataset}}__fact_parcel_events";
CREATE TABLE "{{warehouse_dataset}}__fact_parcel_events" AS
SELECT e.event_id, e.parcel_id, e.event_type, e.hub_id, e.route_id, e.event_ts,
       '{{processing_date}}' AS processing_date
FROM "{{staging_dataset}}__stg_events_{{date_tag}}" e
JOIN "{{warehouse_dataset}}__dim_parcel" p ON p.parcel_id = e.parcel_id;`,
		"vw_daily_route_performance": `DROP VIEW IF EXISTS "{{warehouse_dataset}}__vw_daily_route_performance";
CREATE VIEW "{{warehouse_dataset}}__vw_daily_route_performance" AS
SELECT f.processing_date, f.route_id, COUNT(*) AS events
FROM "{{warehouse_dataset}}__fact_parcel_events" f
JOIN "{{warehouse_dataset}}__dim_route" r ON r.route_id = f.route_id
GROUP BY f.processing_date, f.route_id;`,
		"vw_parcel_event_sequence": `DROP VIEW IF EXISTS "{{warehouse_dataset}}__vw_parcel_event_sequence";
CREATE VIEW "{{warehouse_dataset}}__vw_parcel_event_sequence" AS
SELECT parcel_id, event_id, event_type,
       ROW_NUMBER() OVER (PARTITION BY parcel_id ORDER BY event_ts) AS seq
FROM "{{warehouse_dataset}}__fact_parcel_events";`,
	}
	for name, body := range scripts {
		h.WriteFile(sqlDir, name+".sql", body+"\n")
	}

	creds := setupEnv(t, h.WriteDataDir("20250101"), sqlDir)
	h.WriteFile(filepath.Dir(creds), filepath.Base(creds), "driver: sqlite\ndatabase: "+dbPath+"\n")

	// Two runs leave the same state behind
	for i := 0; i < 2; i++ {
		out, logs, err := execute(t, "", "--processing_date", "2025-01-01")
		require.NoError(t, err, "run %d\n%s\n%s", i+1, out, logs)
		assert.Contains(t, out, "SUCCESS: 10 succeeded, 0 failed, 0 skipped, 11 rows loaded")
	}

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	count := func(query string) int {
		var n int
		require.NoError(t, db.QueryRow(query).Scan(&n))
		return n
	}
	assert.Equal(t, 3, count(`SELECT COUNT(*) FROM "staging_parcelhub__stg_parcels_20250101"`))
	assert.Equal(t, 3, count(`SELECT COUNT(*) FROM "dw_parcelhub__dim_hub"`))
	assert.Equal(t, 3, count(`SELECT COUNT(*) FROM "dw_parcelhub__fact_parcel_events"`))
	assert.Equal(t, 1, count(`SELECT COUNT(*) FROM "dw_parcelhub__vw_daily_route_performance"`))
	assert.Equal(t, 2, count(`SELECT MAX(seq) FROM "dw_parcelhub__vw_parcel_event_sequence" WHERE parcel_id = 'P-1001'`))
}

func TestDatesCommand(t *testing.T) {
	h := testutil.NewTestHelper(t)
	dataDir := h.WriteDataDir("20250102", "20250101")
	h.WriteFile(dataDir, "parcels_20250230.csv", testutil.ParcelsCSV)
	setupEnv(t, dataDir, h.WriteSQLDir(catalogSteps...))

	out, _, err := execute(t, "", "dates")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01\n2025-01-02\n", out)
}

func TestDatesCommandEmpty(t *testing.T) {
	h := testutil.NewTestHelper(t)
	setupEnv(t, t.TempDir(), h.WriteSQLDir(catalogSteps...))

	_, _, err := execute(t, "", "dates")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNoDates, errors.GetErrorCode(err))
}

func TestCatalogCommand(t *testing.T) {
	h := testutil.NewTestHelper(t)
	sqlDir := h.WriteSQLDir(catalogSteps[:5]...)
	h.WriteFile(sqlDir, "scratch.sql", "SELECT 1;\n")
	setupEnv(t, h.WriteDataDir("20250101"), sqlDir)

	out, _, err := execute(t, "", "catalog")
	require.NoError(t, err)

	assert.Less(t, strings.Index(out, "dim_hub"), strings.Index(out, "fact_parcel_events"))
	assert.Contains(t, out, "dim_parcel, dim_hub, dim_route")
	assert.Contains(t, out, "missing")
	assert.Contains(t, out, "Not in catalog: scratch.sql")
}

func TestCheckCommand(t *testing.T) {
	h := testutil.NewTestHelper(t)
	setupEnv(t, h.WriteDataDir("20250101", "20250102"), h.WriteSQLDir(catalogSteps...))
	gw := testutil.NewMockGateway()
	useGateway(t, gw, nil)

	out, _, err := execute(t, "", "check")
	require.NoError(t, err, out)
	assert.Contains(t, out, "2 dates, latest 2025-01-02")
	assert.Contains(t, out, "6 scripts")
	assert.Contains(t, out, "SELECT 1 succeeded")
	assert.Contains(t, out, "Overall: UP")
	assert.Contains(t, out, "SUCCESS: ready to run")
	assert.True(t, gw.Closed)
}

func TestCheckCommandDegraded(t *testing.T) {
	h := testutil.NewTestHelper(t)
	setupEnv(t, h.WriteDataDir(), h.WriteSQLDir(catalogSteps...))
	useGateway(t, testutil.NewMockGateway(), nil)

	out, _, err := execute(t, "", "check")
	require.NoError(t, err, "a degraded component does not fail the check")
	assert.Contains(t, out, "Overall: DEGRADED")
	assert.Contains(t, out, "WARNING: runs may load nothing until data_source recovers")
}

func TestCheckCommandDown(t *testing.T) {
	h := testutil.NewTestHelper(t)
	setupEnv(t, h.WriteDataDir("20250101"), h.WriteSQLDir(catalogSteps[:2]...))
	useGateway(t, nil, errors.ConnectionError("Failed to connect to snowflake", stderrors.New("connection refused")))

	out, _, err := execute(t, "", "check")
	require.ErrorIs(t, err, errCheckFailed)
	assert.Contains(t, out, "missing dim_route.sql")
	assert.Contains(t, out, "Failed to connect to snowflake")
	assert.Contains(t, out, "Overall: DOWN")
	assert.NotContains(t, out, "SUCCESS:")
}

func TestEncryptPasswordFromStdin(t *testing.T) {
	t.Setenv(config.EncryptionKeyEnv, "test-passphrase")

	out, errOut, err := execute(t, "s3cret\n", "encrypt-password", "--stdin")
	require.NoError(t, err)
	assert.Contains(t, errOut, "SUCCESS: paste the value above")

	value := strings.TrimSpace(out)
	assert.True(t, config.IsEncrypted(value), value)
	plain, err := config.DecryptPassword(value)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", plain)
}

func TestEncryptPasswordKeyring(t *testing.T) {
	keyring.MockInit()

	out, errOut, err := execute(t, "s3cret", "encrypt-password", "--stdin", "--keyring", "warehouse")
	require.NoError(t, err)
	assert.Equal(t, "@keyring:warehouse\n", out)
	assert.Equal(t, "SUCCESS: password stored in the system keyring as \"warehouse\"\n", errOut)

	stored, err := keyring.Get("parcelhub", "warehouse")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", stored)
}

func TestEncryptPasswordPrompt(t *testing.T) {
	t.Setenv(config.EncryptionKeyEnv, "test-passphrase")
	previous := passwordPrompt
	t.Cleanup(func() { passwordPrompt = previous })

	passwordPrompt = func() config.PromptFunc {
		return func(string) (string, error) { return "typed", nil }
	}
	out, _, err := execute(t, "", "encrypt-password")
	require.NoError(t, err)
	plain, err := config.DecryptPassword(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "typed", plain)

	passwordPrompt = func() config.PromptFunc { return nil }
	_, _, err = execute(t, "", "encrypt-password")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetErrorCode(err))

	_, _, err = execute(t, "\n", "encrypt-password", "--stdin")
	require.Error(t, err, "an empty password is rejected")
}

func TestReportError(t *testing.T) {
	ui.DisableColor()
	var buf bytes.Buffer
	reportError(&buf, errRunFailed)
	reportError(&buf, errCheckFailed)
	assert.Empty(t, buf.String())

	reportError(&buf, stderrors.New(`unknown flag: --bogus`))
	assert.Equal(t, "\nERROR:\n  unknown flag: --bogus\n", buf.String())

	buf.Reset()
	reportError(&buf, stderrors.New("dial tcp 10.0.0.5:5432: connection refused"))
	assert.Contains(t, buf.String(), "TIP: Verify the warehouse host")

	buf.Reset()
	reportError(&buf, errors.InvalidInput("processing_date", "2025-13-40", "not a calendar date"))
	assert.Contains(t, buf.String(), "["+string(errors.ErrCodeInvalidInput)+"]")
}

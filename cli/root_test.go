package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/infra/repo"
	"github.com/compozy/autoflow/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const syncDoc = `id: wf-cli
owner_id: acme
is_active: true
nodes:
  - id: start
    kind: trigger
    data:
      type: webhook
      key: order-created
  - id: note
    kind: action
    data:
      action_type: log
      params:
        message: order received
edges:
  - from: start
    to: note
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := RootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestSetupGlobalConfig(t *testing.T) {
	t.Run("Should layer YAML under explicit flags and inject config into context", func(t *testing.T) {
		dir := t.TempDir()
		cfgPath := filepath.Join(dir, "autoflow.yaml")
		doc := "server:\n  port: 7000\nqueue:\n  max_retries: 5\ndatabase:\n  driver: sqlite\n"
		require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o600))
		root := RootCmd()
		root.SetArgs([]string{"--env-file", "", "--config", cfgPath, "--db-driver", "memory", "config", "validate"})
		root.SetOut(&bytes.Buffer{})
		require.NoError(t, root.ExecuteContext(t.Context()))

		validate, _, err := root.Find([]string{"config", "validate"})
		require.NoError(t, err)
		cfg := config.FromContext(validate.Context())
		require.NotNil(t, cfg)
		assert.Equal(t, 7000, cfg.Server.Port)
		assert.Equal(t, 5, cfg.Queue.MaxRetries)
		assert.Equal(t, "memory", cfg.Database.Driver)
		assert.Equal(t, 5*time.Minute, cfg.Processor.TickInterval)
	})

	t.Run("Should fail on invalid configuration", func(t *testing.T) {
		dir := t.TempDir()
		cfgPath := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(cfgPath, []byte("database:\n  driver: mongo\n"), 0o600))
		_, err := execute(t, "--config", cfgPath, "config", "validate")
		assert.Error(t, err)
	})
}

func TestWorkflowsSync(t *testing.T) {
	t.Run("Should load YAML definitions into the sqlite store", func(t *testing.T) {
		dir := t.TempDir()
		wfDir := filepath.Join(dir, "workflows")
		require.NoError(t, os.MkdirAll(wfDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(wfDir, "order.yaml"), []byte(syncDoc), 0o600))
		dbPath := filepath.Join(dir, "autoflow.db")

		out, err := execute(t, "--config", "", "--db-driver", "sqlite", "--sqlite-path", dbPath,
			"workflows", "sync", "--dir", wfDir)
		require.NoError(t, err)
		assert.Contains(t, out, "synced 1 workflow(s)")

		cfg := config.Default()
		cfg.Database.Driver = "sqlite"
		cfg.Database.SQLitePath = dbPath
		st, err := repo.Open(t.Context(), &cfg.Database)
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close(t.Context()) })
		def, err := st.GetDefinition(t.Context(), core.ID("wf-cli"))
		require.NoError(t, err)
		assert.True(t, def.IsActive)
		ids, err := st.FindByTrigger(t.Context(), core.TriggerWebhook, "order-created", "acme")
		require.NoError(t, err)
		assert.Equal(t, []core.ID{"wf-cli"}, ids)
	})

	t.Run("Should reject invalid definitions", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"),
			[]byte("id: broken\nnodes:\n  - id: a\n    kind: action\n"), 0o600))
		_, err := execute(t, "--config", "", "--db-driver", "memory", "workflows", "sync", "--dir", dir)
		assert.ErrorIs(t, err, core.ErrMalformedGraph)
	})
}

func TestProcessCmd(t *testing.T) {
	t.Run("Should print an empty tick summary as JSON", func(t *testing.T) {
		out, err := execute(t, "--config", "", "--db-driver", "memory", "process")
		require.NoError(t, err)
		var summary map[string]int
		require.NoError(t, json.Unmarshal([]byte(out), &summary))
		assert.Zero(t, summary["processed_count"])
		assert.Zero(t, summary["scheduled_jobs_resumed"])
	})
}

func TestConfigShow(t *testing.T) {
	t.Run("Should redact secrets and report flag sources", func(t *testing.T) {
		t.Setenv("AUTOFLOW_SERVER_AUTH_PROCESS_TOKEN", "top-secret")
		out, err := execute(t, "--config", "", "--db-driver", "memory", "config", "show", "-f", "json", "-s")
		require.NoError(t, err)
		assert.NotContains(t, out, "top-secret")
		var doc struct {
			Config  map[string]map[string]any `json:"config"`
			Sources map[string]string         `json:"sources"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &doc))
		assert.Equal(t, "memory", doc.Config["database"]["driver"])
		assert.Equal(t, "cli", doc.Sources["database.driver"])
		assert.Equal(t, "env", doc.Sources["server.auth.process_token"])
	})
}

package agent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mlodash/autoflow/analytics"
	"github.com/mlodash/autoflow/config"
	"github.com/mlodash/autoflow/rest"
	"github.com/mlodash/autoflow/signature"
	"github.com/stretchr/testify/require"
)

const testSecret = "agent-secret"

const definitions = `
workflows:
  - id: lead-intake
    name: Lead intake
    triggerType: webhook
    subjectPath: $.clientId
    active: true
    actions:
      - kind: create_task
        params:
          title: "Call {$.trigger.name}"
      - kind: send_notification
        params:
          message: "New lead"
`

func testConfig(t *testing.T) config.Config {
	path := filepath.Join(t.TempDir(), "workflows.yaml")
	require.NoError(t, os.WriteFile(path, []byte(definitions), 0o600))
	return config.Config{
		HttpPort:        18080,
		StorageType:     config.STORAGE_TYPE_INMEM,
		WebhookConfig:   config.WebhookConfig{Secret: testSecret, MaxSkew: 5 * time.Minute, MaxBodyBytes: 256 * 1024},
		EngineConfig:    config.EngineConfig{Workers: 2, QueueSize: 16, SweepInterval: time.Minute, RecoverRunning: true},
		DefinitionsFile: path,
		OperatorTokens:  []string{"ops:token"},
		AnalyticsConfig: analytics.DataCollectorConfig{CollectorType: analytics.NOOP_DATA_COLLECTOR},
	}
}

func trigger(t *testing.T, url string, body string) *http.Response {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req, err := http.NewRequest(http.MethodPost, url+"/workflows/lead-intake/trigger", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(rest.HEADER_TIMESTAMP, ts)
	req.Header.Set(rest.HEADER_SIGNATURE, signature.Sign([]byte(body), ts, testSecret))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func executionStatus(t *testing.T, url string, id string) string {
	req, err := http.NewRequest(http.MethodGet, url+"/executions/"+id, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer token")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body["status"].(string)
}

func TestAgent(t *testing.T) {
	for scenario, mutate := range map[string]func(t *testing.T, c *config.Config){
		"memory storage": func(t *testing.T, c *config.Config) {},
		"memory storage with shared rate limits": func(t *testing.T, c *config.Config) {
			c.RedisConfig = config.RedisStorageConfig{Addrs: []string{miniredis.RunT(t).Addr()}, Namespace: "agent"}
		},
		"redis storage": func(t *testing.T, c *config.Config) {
			c.StorageType = config.STORAGE_TYPE_REDIS
			c.RedisConfig = config.RedisStorageConfig{Addrs: []string{miniredis.RunT(t).Addr()}, Namespace: "agent"}
		},
	} {
		t.Run(scenario, func(t *testing.T) {
			conf := testConfig(t)
			mutate(t, &conf)
			a, err := New(conf)
			require.NoError(t, err)
			defer a.Shutdown()

			srv := httptest.NewServer(a.httpServer.Handler)
			defer srv.Close()

			resp := trigger(t, srv.URL, `{"clientId":"c-1","name":"Avery"}`)
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)
			var accepted map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
			id := accepted["executionId"].(string)

			require.Eventually(t, func() bool {
				return executionStatus(t, srv.URL, id) == "COMPLETED"
			}, 5*time.Second, 20*time.Millisecond)
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	conf := testConfig(t)
	conf.StorageType = config.STORAGE_TYPE_POSTGRES
	_, err := New(conf)
	require.Error(t, err)
}

func TestShutdownIsIdempotent(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)
	require.NoError(t, a.Shutdown())
	require.NoError(t, a.Shutdown())
	select {
	case <-a.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehsaniara/flowq/internal/flowq/domain"
	"github.com/ehsaniara/flowq/internal/flowq/monitor"
	"github.com/ehsaniara/flowq/internal/flowq/server"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// testConfig writes a config that keeps retries fast and logs quiet
func testConfig(t *testing.T) string {
	return writeFile(t, t.TempDir(), "flowq-config.yml", `
logging:
  level: ERROR
queue:
  retry_base_delay: 1ms
  retry_max_delay: 2ms
`)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCmd()
	assert.Equal(t, "flowq", cmd.Use)

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "run", "classify", "monitor", "health", "version"} {
		assert.Contains(t, names, want)
	}

	for _, flag := range []string{"config", "log-level", "json"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "flowq version")

	out, err = execute(t, "version", "--json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "flowq", info["component"])
}

func TestClassifyCommand(t *testing.T) {
	cfg := testConfig(t)

	out, err := execute(t, "--config", cfg, "classify", "CreateTaskStep", "GetFileContentStep")
	require.NoError(t, err)
	assert.Contains(t, out, "Critical (in order): CreateTaskStep")
	assert.Contains(t, out, "Non-critical:        GetFileContentStep")
	assert.Contains(t, out, "50% of 2 steps")

	out, err = execute(t, "--config", cfg, "--json", "classify", "--context", "workflowId=wf-1", "SaveFile", "RenderChart")
	require.NoError(t, err)
	var result classifyOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 2, result.Total)
	require.Len(t, result.Decisions, 2)
	assert.Equal(t, "SaveFile", result.Decisions[0].Step)
	assert.Equal(t, "critical", result.Decisions[0].Class)
	assert.Equal(t, "workflow-context", result.Decisions[0].Source)
}

func TestClassifyCommand_RequiresSteps(t *testing.T) {
	_, err := execute(t, "--config", testConfig(t), "classify")
	assert.Error(t, err)
}

func TestParseContext(t *testing.T) {
	ctx, err := parseContext([]string{"workflowId=wf-1", "sequentialRequired=false", "isWorkflowExecution=TRUE"})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionContext{
		"workflowId":          "wf-1",
		"sequentialRequired":  false,
		"isWorkflowExecution": true,
	}, ctx)

	_, err = parseContext([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseContext([]string{"=x"})
	assert.Error(t, err)

	ctx, err = parseContext(nil)
	require.NoError(t, err)
	assert.Nil(t, ctx)
}

func TestRunCommand_CompletesPlan(t *testing.T) {
	cfg := testConfig(t)
	plan := writeFile(t, t.TempDir(), "plan.yml", `
project: demo
user: alice
priority: high
timeout: 30s
steps:
  - name: ExecuteCommandStep
    metadata:
      command: echo first
  - name: RenderChart
    metadata:
      command: echo chart
`)

	out, err := execute(t, "--config", cfg, "run", "-f", plan)
	require.NoError(t, err)
	assert.Contains(t, out, "[ExecuteCommandStep] first")
	assert.Contains(t, out, "[RenderChart] chart")
	assert.Contains(t, out, "(project demo): completed")
}

func TestRunCommand_FailsWhenStepFails(t *testing.T) {
	cfg := testConfig(t)
	plan := writeFile(t, t.TempDir(), "plan.yml", `
max_retries: 0
steps:
  - name: ExecuteCommandStep
    metadata:
      command: exit 4
  - name: SaveFile
    metadata:
      command: echo never
`)

	out, err := execute(t, "--config", cfg, "--json", "run", "-f", plan, "--project", "p9")
	require.Error(t, err)

	var item domain.QueueItem
	require.NoError(t, json.Unmarshal([]byte(out), &item))
	assert.Equal(t, "p9", item.ProjectID)
	assert.Equal(t, domain.StatusFailed, item.Status)
	require.Len(t, item.Steps, 2)
	assert.Equal(t, domain.StepFailed, item.Steps[0].Status)
	assert.Equal(t, domain.StepSkipped, item.Steps[1].Status)
	assert.NotContains(t, out, "never")
}

func TestRunCommand_BadPlanFile(t *testing.T) {
	cfg := testConfig(t)
	_, err := execute(t, "--config", cfg, "run", "-f", filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)

	bad := writeFile(t, t.TempDir(), "plan.yml", "steps: [")
	_, err = execute(t, "--config", cfg, "run", "-f", bad)
	assert.Error(t, err)

	badPriority := writeFile(t, t.TempDir(), "plan.yml", "priority: extreme\nsteps:\n  - name: A\n")
	_, err = execute(t, "--config", cfg, "run", "-f", badPriority)
	assert.Error(t, err)
}

func TestMonitorCommand(t *testing.T) {
	skipCI(t)
	out, err := execute(t, "--config", testConfig(t), "--json", "monitor", "--samples", "2", "--interval", "10ms")
	require.NoError(t, err)

	var report monitorReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Len(t, report.Snapshots, 2)
	assert.NotEqual(t, monitor.HealthUnknown, report.Health.Status)
}

func TestMonitorCommand_RejectsZeroSamples(t *testing.T) {
	_, err := execute(t, "--config", testConfig(t), "monitor", "--samples", "0")
	assert.Error(t, err)
}

type fixedHealth monitor.HealthStatus

func (f fixedHealth) Health() monitor.Health { return monitor.Health{Status: monitor.HealthStatus(f)} }

func startHealthServer(t *testing.T, status monitor.HealthStatus) string {
	t.Helper()
	svc := server.NewHealthService(fixedHealth(status))
	svc.Sync()

	grpcServer := server.NewGRPCServer(svc)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = grpcServer.Serve(lis) }()
	t.Cleanup(grpcServer.Stop)
	return lis.Addr().String()
}

func TestHealthCommand(t *testing.T) {
	addr := startHealthServer(t, monitor.HealthHealthy)
	out, err := execute(t, "--config", testConfig(t), "health", "--addr", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "flowq.queue: SERVING")

	critical := startHealthServer(t, monitor.HealthCritical)
	out, err = execute(t, "--config", testConfig(t), "health", "--addr", critical, "--service", "")
	require.Error(t, err)
	assert.Contains(t, out, "(overall): NOT_SERVING")
}

func TestCheckHealth_Unreachable(t *testing.T) {
	_, err := checkHealth(context.Background(), "127.0.0.1:1", server.QueueService, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestDialAddress(t *testing.T) {
	assert.Equal(t, "127.0.0.1:50061", dialAddress("0.0.0.0", 50061))
	assert.Equal(t, "10.1.2.3:80", dialAddress("10.1.2.3", 80))
	assert.True(t, strings.HasPrefix(dialAddress("", 1), "127.0.0.1"))
}

func skipCI(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("Requires Linux")
	}
	if os.Getenv("GITHUB_ACTIONS") == "true" || os.Getenv("CI") == "true" {
		t.Skip("Disabled in CI")
	}
}

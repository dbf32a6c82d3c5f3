package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	echo := Func(func(ctx Context) (Result, error) {
		return Result{Outputs: map[string]string{"echo": ctx.TaskID}}, nil
	})
	reg.Register("echo", echo)

	got, ok := reg.Get("echo")
	require.True(t, ok)
	res, err := got.Run(Context{Context: context.Background(), TaskID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "t1", res.Outputs["echo"])
}

func TestRegistryGetMissingReturnsFalse(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Get("nope")
	assert.False(t, ok)
}

func TestRegistryUnregister(t *testing.T) {
	reg := NewRegistry()
	reg.Register("a", Func(func(ctx Context) (Result, error) { return Result{}, nil }))
	reg.Unregister("a")
	_, ok := reg.Get("a")
	assert.False(t, ok)
}

func TestShellRunnerRunsCommandAndCapturesOutput(t *testing.T) {
	sr := NewShellRunner(nil)
	payload := []byte(`{"command":"echo","args":["hello"]}`)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var progressCalls int
	res, err := sr.Run(Context{
		Context: ctx,
		TaskID:  "shell-1",
		Payload: payload,
		Progress: func(pct float64, op string) {
			progressCalls++
		},
	})
	require.NoError(t, err)
	assert.Contains(t, res.Outputs["stdout"], "hello")
	assert.Equal(t, "0", res.Outputs["exitCode"])
	assert.Equal(t, 2, progressCalls)
}

func TestShellRunnerRejectsEmptyCommand(t *testing.T) {
	sr := NewShellRunner(nil)
	_, err := sr.Run(Context{Context: context.Background(), Payload: []byte(`{}`)})
	assert.Error(t, err)
}

func TestShellRunnerSurfacesNonZeroExit(t *testing.T) {
	sr := NewShellRunner(nil)
	payload := []byte(`{"command":"sh","args":["-c","exit 3"]}`)
	res, err := sr.Run(Context{Context: context.Background(), Payload: payload})
	assert.Error(t, err)
	assert.Equal(t, "3", res.Outputs["exitCode"])
}

func TestNewProcessManagerStartsEmpty(t *testing.T) {
	pm := NewProcessManager()
	assert.Equal(t, 0, pm.Count())
}

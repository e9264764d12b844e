//go:build !windows

package process

import (
	"bufio"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zette-dev/heyjamie/internal/testutil"
)

func TestMain(m *testing.M) {
	testutil.RunHelperIfRequested()
	goleak.VerifyTestMain(m)
}

func helperSpec(behavior string, extra ...string) Spec {
	return Spec{
		Path:   testutil.Executable(),
		Env:    testutil.Env(behavior, extra...),
		Stdin:  true,
		Output: true,
	}
}

func spawn(t *testing.T, spec Spec) *Handle {
	t.Helper()
	h, err := Spawn(spec)
	require.NoError(t, err)
	t.Cleanup(func() {
		h.Terminate(0)
		_ = h.Close()
	})
	return h
}

func waitExit(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}
}

func readReady(t *testing.T, h *Handle) {
	t.Helper()
	line, err := bufio.NewReader(h.Stdout()).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, testutil.Ready, strings.TrimSpace(line))
}

func TestSpawn_EchoRoundTrip(t *testing.T) {
	h := spawn(t, helperSpec(testutil.Echo))
	out := StartCapture(h.Stdout())
	errs := StartDrain(h.Stderr(), nil)

	require.NoError(t, h.WriteInput([]byte(`{"prompt":"hello"}`)))
	waitExit(t, h)

	got, err := out.Bytes()
	require.NoError(t, err)
	require.Equal(t, `{"prompt":"hello"}`, string(got))
	errs.Wait()

	exited, err := h.Poll()
	require.True(t, exited)
	require.NoError(t, err)
	require.Equal(t, 0, h.ExitCode())
	require.Greater(t, h.PID(), 0)
	require.False(t, h.Started().IsZero())
}

func TestSpawn_MissingExecutable(t *testing.T) {
	_, err := Spawn(Spec{Path: "/nonexistent/heyjamie-helper", Stdin: true, Output: true})
	require.Error(t, err)

	_, err = Spawn(Spec{})
	require.Error(t, err)
}

func TestWriteInput_EmptyPayloadClosesInput(t *testing.T) {
	h := spawn(t, helperSpec(testutil.Echo))
	out := StartCapture(h.Stdout())
	errs := StartDrain(h.Stderr(), nil)

	require.NoError(t, h.WriteInput(nil))
	waitExit(t, h)

	got, err := out.Bytes()
	require.NoError(t, err)
	require.Empty(t, got)
	errs.Wait()
}

func TestWriteInput_WithoutStdin(t *testing.T) {
	spec := helperSpec(testutil.Print)
	spec.Stdin = false
	h := spawn(t, spec)

	require.NoError(t, h.WriteInput(nil))
	require.Error(t, h.WriteInput([]byte("x")))
	waitExit(t, h)
}

func TestExitCode_NonZero(t *testing.T) {
	h := spawn(t, helperSpec(testutil.Print, "HELPER_EXIT=3", "HELPER_STDERR=first\n\nboom\n"))
	errs := StartDrain(h.Stderr(), nil)
	out := StartCapture(h.Stdout())
	require.NoError(t, h.WriteInput(nil))

	waitExit(t, h)
	errs.Wait()
	_, _ = out.Bytes()

	exited, err := h.Poll()
	require.True(t, exited)
	require.NoError(t, err, "a non-zero exit is not a poll failure")
	require.Equal(t, 3, h.ExitCode())
	require.Equal(t, "first\nboom", errs.Tail())
	require.Error(t, h.Wait())
}

func TestTerminate_GracefulExitSkipsKill(t *testing.T) {
	h := spawn(t, helperSpec(testutil.TrapTerm))
	readReady(t, h)
	errs := StartDrain(h.Stderr(), nil)

	require.Equal(t, Graceful, h.Terminate(5*time.Second))
	require.False(t, h.Running())
	require.Equal(t, 0, h.ExitCode(), "the child handled SIGTERM itself")

	errs.Wait()
	require.Equal(t, testutil.GotTerm, errs.Tail())
}

func TestTerminate_ForcedAfterGrace(t *testing.T) {
	h := spawn(t, helperSpec(testutil.IgnoreTerm))
	readReady(t, h)

	start := time.Now()
	require.Equal(t, Forced, h.Terminate(200*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	require.False(t, h.Running())
	require.Equal(t, -1, h.ExitCode())
}

func TestTerminate_DefaultActionIsGraceful(t *testing.T) {
	h := spawn(t, Spec{Path: testutil.Executable(), Env: testutil.Env(testutil.Sleep)})
	require.Nil(t, h.Stdout())
	require.Nil(t, h.Stderr())

	require.Equal(t, Graceful, h.Terminate(DefaultGrace))
	require.True(t, h.Exited())
}

func TestAlive(t *testing.T) {
	h := spawn(t, Spec{Path: testutil.Executable(), Env: testutil.Env(testutil.Sleep)})
	require.True(t, Alive(h.PID()))

	require.Equal(t, Graceful, h.Terminate(DefaultGrace))
	require.False(t, Alive(h.PID()), "a terminated child is reaped")

	require.False(t, Alive(0))
	require.False(t, Alive(-1))
}

func TestTerminate_AlreadyExited(t *testing.T) {
	h := spawn(t, helperSpec(testutil.Print))
	require.NoError(t, h.WriteInput(nil))
	_, _ = StartCapture(h.Stdout()).Bytes()
	StartDrain(h.Stderr(), nil).Wait()
	waitExit(t, h)

	require.Equal(t, AlreadyExited, h.Terminate(DefaultGrace))
}

func TestFloodedStderrDoesNotStall(t *testing.T) {
	h := spawn(t, helperSpec(testutil.Flood, "HELPER_FLOOD=4194304", "HELPER_STDOUT=done"))
	var mu sync.Mutex
	lines := 0
	errs := StartDrain(h.Stderr(), func(string) {
		mu.Lock()
		lines++
		mu.Unlock()
	})
	out := StartCapture(h.Stdout())
	require.NoError(t, h.WriteInput(nil))

	waitExit(t, h)
	errs.Wait()
	got, err := out.Bytes()
	require.NoError(t, err)
	require.Equal(t, "done", string(got))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 4096, lines)
}

func TestDrain_TruncatesAndKeepsTail(t *testing.T) {
	pr, pw := io.Pipe()
	var got []string
	d := StartDrain(pr, func(line string) { got = append(got, line) })

	go func() {
		_, _ = io.WriteString(pw, "\n  \n"+strings.Repeat("a", 700)+"\n")
		for i := 0; i < 25; i++ {
			_, _ = io.WriteString(pw, "line\n")
		}
		_ = pw.Close()
	}()
	d.Wait()

	require.Len(t, got, 26)
	require.Equal(t, strings.Repeat("a", MaxLogLine)+"…", got[0])
	require.Equal(t, strings.TrimSuffix(strings.Repeat("line\n", tailLines), "\n"), d.Tail())
}

func TestDrain_OverlongLineKeepsConsuming(t *testing.T) {
	pr, pw := io.Pipe()
	d := StartDrain(pr, nil)

	written := make(chan error, 1)
	go func() {
		_, err := io.WriteString(pw, strings.Repeat("z", 2*maxScanLine)+"\nafter\n")
		_ = pw.Close()
		written <- err
	}()

	select {
	case err := <-written:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("writer stalled on an undrained pipe")
	}
	d.Wait()
}

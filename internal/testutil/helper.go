// Package testutil lets a test binary re-execute itself as a throwaway child
// process with scripted behavior, so process supervision can be tested
// against real OS processes on any machine.
//
// A package opts in from TestMain:
//
//	func TestMain(m *testing.M) {
//		testutil.RunHelperIfRequested()
//		os.Exit(m.Run())
//	}
package testutil

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// HelperEnv selects the helper behavior in the re-executed binary.
const HelperEnv = "HEYJAMIE_TEST_HELPER"

// Behaviors understood by the helper.
const (
	// Echo copies stdin to stdout.
	Echo = "echo"
	// Print writes HELPER_STDOUT and HELPER_STDERR, then exits with HELPER_EXIT.
	Print = "print"
	// Sleep blocks for an hour.
	Sleep = "sleep"
	// TrapTerm prints "ready", then exits 0 on SIGTERM after reporting it on stderr.
	TrapTerm = "trap-term"
	// IgnoreTerm prints "ready", then ignores SIGTERM and blocks.
	IgnoreTerm = "ignore-term"
	// Flood writes HELPER_FLOOD bytes of stderr lines before behaving like Print.
	Flood = "flood"
	// Orphan starts a sleeping grandchild that inherits stdout and stderr,
	// then behaves like Print. The grandchild's pid goes to HELPER_ORPHAN_PIDFILE.
	Orphan = "orphan"
)

// PIDFileEnv names a file every helper writes its own pid to before running.
const PIDFileEnv = "HELPER_PIDFILE"

// Ready is the line TrapTerm and IgnoreTerm print once their signal handling
// is installed.
const Ready = "ready"

// GotTerm is what TrapTerm writes to stderr when SIGTERM arrives.
const GotTerm = "got SIGTERM"

// Executable returns the path of the running test binary.
func Executable() string {
	return os.Args[0]
}

// Env returns the environment overlay selecting behavior with extra KEY=VALUE pairs.
func Env(behavior string, extra ...string) []string {
	return append([]string{HelperEnv + "=" + behavior}, extra...)
}

// RunHelperIfRequested runs the helper and exits when the binary was started
// as one. Otherwise it returns immediately.
func RunHelperIfRequested() {
	behavior := os.Getenv(HelperEnv)
	if behavior == "" {
		return
	}
	if path := os.Getenv(PIDFileEnv); path != "" {
		if err := writePID(path, os.Getpid()); err != nil {
			fmt.Fprintln(os.Stderr, "pidfile:", err)
			os.Exit(2)
		}
	}
	os.Exit(runHelper(behavior))
}

// ReadPID returns the pid a helper wrote to path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func writePID(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600)
}

func runHelper(behavior string) int {
	switch behavior {
	case Echo:
		if _, err := io.Copy(os.Stdout, os.Stdin); err != nil {
			fmt.Fprintln(os.Stderr, "echo:", err)
			return 1
		}
		return 0

	case Print:
		return printAndExit()

	case Sleep:
		time.Sleep(time.Hour)
		return 0

	case TrapTerm:
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGTERM)
		fmt.Println(Ready)
		<-sig
		fmt.Fprintln(os.Stderr, GotTerm)
		return 0

	case IgnoreTerm:
		signal.Ignore(syscall.SIGTERM)
		fmt.Println(Ready)
		time.Sleep(time.Hour)
		return 0

	case Flood:
		n, _ := strconv.Atoi(os.Getenv("HELPER_FLOOD"))
		line := strings.Repeat("x", 1023) + "\n"
		for written := 0; written < n; written += len(line) {
			if _, err := os.Stderr.WriteString(line); err != nil {
				return 1
			}
		}
		return printAndExit()

	case Orphan:
		child := exec.Command(Executable())
		child.Env = append(os.Environ(), HelperEnv+"="+Sleep, PIDFileEnv+"=")
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr
		if err := child.Start(); err != nil {
			fmt.Fprintln(os.Stderr, "orphan:", err)
			return 1
		}
		if path := os.Getenv("HELPER_ORPHAN_PIDFILE"); path != "" {
			if err := writePID(path, child.Process.Pid); err != nil {
				fmt.Fprintln(os.Stderr, "orphan pidfile:", err)
				return 1
			}
		}
		return printAndExit()

	default:
		fmt.Fprintf(os.Stderr, "unknown helper behavior %q\n", behavior)
		return 2
	}
}

func printAndExit() int {
	if s := os.Getenv("HELPER_STDERR"); s != "" {
		fmt.Fprint(os.Stderr, s)
	}
	if s := os.Getenv("HELPER_STDOUT"); s != "" {
		fmt.Fprint(os.Stdout, s)
	}
	code, _ := strconv.Atoi(os.Getenv("HELPER_EXIT"))
	return code
}

package executor

import (
	"sync"

	"github.com/caffeineduck/starbridge/hostfunc"
)

// The shared test executor saves each test from starting its own loops.
var (
	testMu       sync.Mutex
	testExecutor *Executor
)

// GetTestExecutor returns a shared executor for testing, creating it on
// first use. Tests that need their own options call CloseTestExecutor
// first, since only one executor may be live.
func GetTestExecutor() (*Executor, error) {
	testMu.Lock()
	defer testMu.Unlock()
	if testExecutor != nil {
		return testExecutor, nil
	}
	e, err := New(hostfunc.NewRegistry())
	if err != nil {
		return nil, err
	}
	testExecutor = e
	return e, nil
}

// CloseTestExecutor closes the shared test executor.
func CloseTestExecutor() {
	testMu.Lock()
	defer testMu.Unlock()
	if testExecutor != nil {
		testExecutor.Close()
		testExecutor = nil
	}
}

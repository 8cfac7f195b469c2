package alloc

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

var allocErrorHook atomic.Pointer[func(err error)]

// SetAllocErrorHook installs a hook that HandleAllocError and CapacityOverflow call before
// panicking. A nil hook removes the current one. The hook may terminate the process itself,
// for instance with os.Exit; if it returns, the panic proceeds.
func SetAllocErrorHook(hook func(err error)) {
	if hook == nil {
		allocErrorHook.Store(nil)
		return
	}
	allocErrorHook.Store(&hook)
}

// TakeAllocErrorHook removes the installed hook and returns it, or nil if there was none
func TakeAllocErrorHook() func(err error) {
	hook := allocErrorHook.Swap(nil)
	if hook == nil {
		return nil
	}
	return *hook
}

// HandleAllocError reports that an allocator could not provide layout. It never returns: the
// report is delivered to the hook, and then the goroutine panics with an *AllocError matching
// ErrAllocFailed.
func HandleAllocError(layout Layout, cause error) {
	if cause == nil {
		cause = ErrAllocFailed
	} else if !errors.Is(cause, ErrAllocFailed) {
		cause = errors.Mark(cause, ErrAllocFailed)
	}

	fatal(&AllocError{Layout: layout, cause: cause})
}

// CapacityOverflow reports that a requested size cannot be represented. It never returns.
func CapacityOverflow(cause error) {
	if cause == nil {
		cause = ErrCapacityOverflow
	} else if !errors.Is(cause, ErrCapacityOverflow) {
		cause = errors.Mark(cause, ErrCapacityOverflow)
	}

	fatal(errors.WithStack(cause))
}

func fatal(err error) {
	if hook := allocErrorHook.Load(); hook != nil {
		(*hook)(err)
	}
	panic(err)
}

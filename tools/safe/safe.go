package safe

import (
	"fmt"
	"reflect"

	"PPChat/logger"
	"PPChat/tools/errs"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
// Useful for enforcing required dependencies at construction time.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// Go starts f in a goroutine that recovers and logs panics under name.
func Go(name string, f func()) {
	go Run(name, f)
}

// Run calls f, recovering and logging a panic instead of crashing the process.
func Run(name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panic recovered",
				zap.String("goroutine", name),
				zap.Error(errs.ErrPanic(r)),
				zap.Stack("stack"))
		}
	}()
	f()
}

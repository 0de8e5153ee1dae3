package errors

import (
	"fmt"
	"os"
	"sync"
)

var (
	defaultHandler    *ErrorHandler
	defaultHandlerErr error
	once              sync.Once
)

func GetDefaultHandler() (*ErrorHandler, error) {
	once.Do(func() {
		defaultHandler, defaultHandlerErr = NewErrorHandler()
	})
	return defaultHandler, defaultHandlerErr
}

// HandleError reports err through the default handler. When no log file can
// be opened the error is still printed to stderr.
func HandleError(err error) {
	if err == nil {
		return
	}
	handler, handlerErr := GetDefaultHandler()
	if handlerErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return
	}
	handler.Handle(err)
}

// resetDefaultHandler resets the singleton for testing purposes
func resetDefaultHandler() {
	defaultHandler = nil
	defaultHandlerErr = nil
	once = sync.Once{}
}

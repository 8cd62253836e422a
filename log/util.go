package log

import (
	"errors"
	"os"
	"runtime"
	"strconv"
)

var errEmptyName = errors.New("empty output name")

// getOutput maps the reserved names stdout and stderr to the process streams
// and anything else to a file opened for appending.
func getOutput(outName string) (*os.File, error) {
	switch outName {
	case "":
		return nil, errEmptyName
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		return os.OpenFile(outName, os.O_WRONLY|os.O_CREATE|os.O_APPEND|os.O_SYNC, 0644)
	}
}

// SkipCaller returns the file:line of the caller skip frames up.
func SkipCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "?"
	}
	return file + ":" + strconv.Itoa(line)
}

package config

import (
	"bytes"
	"io"
	"os"
)

// expandReader replaces ${VAR} and $VAR references with environment values.
// Unset variables expand to the empty string.
func expandReader(raw []byte) io.Reader {
	return bytes.NewReader([]byte(os.ExpandEnv(string(raw))))
}

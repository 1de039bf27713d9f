package ui

import (
	"io/ioutil"
	"strconv"
	"strings"

	ui_config "github.com/bitdoglab/sectele/internal/ui/config"
	"github.com/bitdoglab/sectele/log2"
)

// valueReader yields measurement value: sensor file if configured, fixed value otherwise.
type valueReader struct {
	log    *log2.Log
	path   string
	fixed  string
	failed bool
}

func newValueReader(log *log2.Log, config *ui_config.Config) *valueReader {
	return &valueReader{log: log, path: config.SensorPath, fixed: config.ValueOrDefault()}
}

func (self *valueReader) read() string {
	if self.path == "" {
		return self.fixed
	}
	v, err := readMillis(self.path)
	if err != nil {
		if !self.failed {
			self.log.Errorf("sensor path=%s err=%v, using value=%s", self.path, err, self.fixed)
		}
		self.failed = true
		return self.fixed
	}
	self.failed = false
	return v
}

// thermal zone style file: integer millidegrees
func readMillis(path string) (string, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return "", err
	}
	milli, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(float64(milli)/1000, 'f', 1, 64), nil
}

package forecast

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LevelCode identifies the vertical-level product of the MSM archive.
// The surface product carries the cloud-fraction fields this service needs.
const LevelCode = "S"

// Run identifies one forecast dataset by its issue date and run hour (UTC).
type Run struct {
	Date time.Time // midnight UTC of the issue date
	Hour int       // run hour-of-day, must be a member of the configured set
}

// NewRun builds a Run from a wall-clock issue time, truncating to the date.
func NewRun(t time.Time) Run {
	t = t.UTC()
	return Run{
		Date: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC),
		Hour: t.Hour(),
	}
}

// Time returns the run's issue time.
func (r Run) Time() time.Time {
	return r.Date.Add(time.Duration(r.Hour) * time.Hour)
}

// Filename is the archive file name for this run, e.g. "MSM2025060100S.nc".
func (r Run) Filename() string {
	return fmt.Sprintf("MSM%s%02d%s.nc", r.Date.Format("20060102"), r.Hour, LevelCode)
}

// URL builds the remote resource location under baseURL. The archive keys
// files by issue date directory, then filename.
func (r Run) URL(baseURL string) string {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL + r.Date.Format("20060102") + "/" + r.Filename()
}

func (r Run) String() string {
	return fmt.Sprintf("%s %02dZ", r.Date.Format("2006-01-02"), r.Hour)
}

// ParseFilename recovers a Run from an archive file name. It returns false
// for anything that is not an MSM surface-level NetCDF name.
func ParseFilename(name string) (Run, bool) {
	suffix := LevelCode + ".nc"
	if !strings.HasPrefix(name, "MSM") || !strings.HasSuffix(name, suffix) {
		return Run{}, false
	}
	digits := name[3 : len(name)-len(suffix)]
	if len(digits) != 10 {
		return Run{}, false
	}
	date, err := time.Parse("20060102", digits[:8])
	if err != nil {
		return Run{}, false
	}
	hour, err := strconv.Atoi(digits[8:])
	if err != nil || hour < 0 || hour > 23 {
		return Run{}, false
	}
	return Run{Date: date, Hour: hour}, true
}

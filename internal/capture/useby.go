package capture

import (
	"fmt"
	"strings"
	"time"

	"github.com/microsearch/drivercapture/internal/sample"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var dateParser = newDateParser()

func newDateParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseUseBy reads a use-by date typed as YYYY-MM-DD, DD/MM/YYYY or a
// relative phrase ("tomorrow", "next friday", "in 5 days") resolved
// against now. The result is a local calendar date.
func ParseUseBy(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if t, err := sample.ParseDate(text); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("02/01/2006", text, time.Local); err == nil {
		return t, nil
	}

	r, err := dateParser.Parse(text, now)
	if err != nil || r == nil {
		return time.Time{}, fmt.Errorf("use-by date %q not understood (use YYYY-MM-DD)", text)
	}
	return sample.TruncateDate(r.Time.In(time.Local)), nil
}

package main

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// timeParser resolves natural-language flags like "--since yesterday" or
// "--since 3 days ago" to an absolute time, the way the teacher's `bd close
// --due` flag accepts relative dates.
var timeParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseWhen resolves a natural-language time expression relative to now.
// An empty input resolves to the zero time (meaning "no filter").
func parseWhen(expr string) (time.Time, error) {
	if expr == "" {
		return time.Time{}, nil
	}
	r, err := timeParser.Parse(expr, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time expression %q: %w", expr, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand time expression %q", expr)
	}
	return r.Time, nil
}

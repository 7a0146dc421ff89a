package server

import (
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/twistedxcom/sessionwatch/internal/session"
)

// recordSource adapts records for fuzzy matching over their searchable
// text: project name, project path, last tool, session id.
type recordSource []session.Record

func (rs recordSource) String(i int) string {
	r := rs[i]
	return strings.Join([]string{r.ProjectName, r.ProjectPath, r.LastTool, r.SessionID}, " ")
}

func (rs recordSource) Len() int { return len(rs) }

// filterRecords returns the records matching query, best match first.
func filterRecords(records []session.Record, query string) []session.Record {
	matches := fuzzy.FindFrom(query, recordSource(records))
	out := make([]session.Record, 0, len(matches))
	for _, m := range matches {
		out = append(out, records[m.Index])
	}
	return out
}

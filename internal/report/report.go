// Package report renders printable attendance tables.
package report

import (
	"errors"
	"html/template"
	"io"

	"roster/internal/attendance"
)

// ErrNoTable is returned when the filter does not select a subject group.
var ErrNoTable = errors.New("no table available to print")

// Labels are the strings shown on the printed page.
type Labels struct {
	Title      string
	Name       string
	StudyType  string
	Status     string
	Attended   string
	Present    string
	Absent     string
	Unmarked   string
	Percentage string
	Morning    string
	Evening    string
}

var DefaultLabels = Labels{
	Title:      "طباعة الجدول",
	Name:       "الاسم",
	StudyType:  "نوع الدراسة",
	Status:     "الحالة",
	Attended:   "الحضور",
	Present:    "حاضر",
	Absent:     "غائب",
	Unmarked:   "-",
	Percentage: "نسبة الحضور",
	Morning:    "صباحي",
	Evening:    "مسائي",
}

type page struct {
	L      Labels
	Filter attendance.Filter
	Table  attendance.Table
}

var funcs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
	"status": func(l Labels, r attendance.Row) string {
		switch {
		case !r.Marked:
			return l.Unmarked
		case r.Present:
			return l.Present
		}
		return l.Absent
	},
	"studyType": func(l Labels, t attendance.StudyType) string {
		switch t {
		case attendance.Morning:
			return l.Morning
		case attendance.Evening:
			return l.Evening
		}
		return string(t)
	},
}

var printTmpl = template.Must(template.New("print").Funcs(funcs).Parse(`<!DOCTYPE html>
<html dir="rtl">
<head>
<meta charset="utf-8">
<title>{{.L.Title}}</title>
<style>
table { width: 100%; border-collapse: collapse; }
table, th, td { border: 1px solid black; }
th, td { padding: 8px; text-align: center; }
</style>
</head>
<body>
<h3>{{.Filter.College}} / {{.Filter.Department}} / {{.Filter.Grade}} / {{.Filter.Subject}} ({{.Table.Date}})</h3>
<table>
<thead><tr><th>#</th><th>{{.L.Name}}</th><th>{{.L.StudyType}}</th><th>{{.L.Status}}</th><th>{{.L.Attended}}</th></tr></thead>
<tbody>
{{- range $i, $r := .Table.Rows}}
<tr><td>{{inc $i}}</td><td>{{$r.Name}}</td><td>{{studyType $.L $r.StudyType}}</td><td>{{status $.L $r}}</td><td>{{$r.Attended}}/{{$.Table.TotalLectures}}</td></tr>
{{- end}}
</tbody>
</table>
<p>{{.L.Present}}: {{.Table.Stats.Present}} | {{.L.Absent}}: {{.Table.Stats.Absent}} | {{.L.Percentage}}: {{.Table.Stats.Percentage}}%</p>
</body>
</html>
`))

// Render writes the print page of t. f is the filter t was built from.
func Render(w io.Writer, f attendance.Filter, t attendance.Table, l Labels) error {
	if f.Department == "" || f.Grade == "" || f.Subject == "" {
		return ErrNoTable
	}
	return printTmpl.Execute(w, page{L: l, Filter: f, Table: t})
}

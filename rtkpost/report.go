package rtkpost

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goblimey/go-rtkpost/rdnap"
)

// Quality is the solution quality flag (the Q column of the report).
type Quality int

const (
	QualityNone Quality = iota
	QualityFix
	QualityFloat
	QualitySBAS
	QualityDGPS
	QualitySingle
	QualityPPP
)

func (q Quality) String() string {
	switch q {
	case QualityNone:
		return "none"
	case QualityFix:
		return "fix"
	case QualityFloat:
		return "float"
	case QualitySBAS:
		return "sbas"
	case QualityDGPS:
		return "dgps"
	case QualitySingle:
		return "single"
	case QualityPPP:
		return "ppp"
	default:
		return fmt.Sprintf("Quality(%d)", int(q))
	}
}

// Solution is one row of a solver report.
type Solution struct {
	Time          time.Time `json:"time"`
	Latitude      float64   `json:"lat"`
	Longitude     float64   `json:"lon"`
	Height        float64   `json:"alt"`
	Quality       Quality   `json:"q"`
	NumSatellites int       `json:"ns"`
	SDN           float64   `json:"sdn"`
	SDE           float64   `json:"sde"`
	SDU           float64   `json:"sdu"`
	// Local is the position in RD/NAP, nil if it could not be worked out.
	Local *rdnap.Point `json:"local,omitempty"`
}

func (s *Solution) String() string {
	local := "-"
	if s.Local != nil {
		local = s.Local.String()
	}
	return fmt.Sprintf("%s %.7f %.7f %.4f Q=%s ns=%d sdu=%.4f %s",
		s.Time.Format("2006-01-02 15:04:05.000"), s.Latitude, s.Longitude, s.Height,
		s.Quality, s.NumSatellites, s.SDU, local)
}

// SolutionFormatError reports a solver report that can't be read.
type SolutionFormatError struct {
	// Line is the line number, 0 if the problem isn't on one line.
	Line   int
	Reason string
}

func (e *SolutionFormatError) Error() string {
	if e.Line == 0 {
		return "solution report: " + e.Reason
	}
	return fmt.Sprintf("solution report: line %d: %s", e.Line, e.Reason)
}

// headerMarker starts the column header, after the leading '%' and spaces.
const headerMarker = "GPST"

// reportTimeLayout is the layout of the GPST column.  Fractional seconds
// are accepted when parsing.
const reportTimeLayout = "2006/01/02 15:04:05"

// columns the report must have.
var requiredColumns = []string{
	"GPST", "latitude(deg)", "longitude(deg)", "height(m)",
	"Q", "ns", "sdn(m)", "sde(m)", "sdu(m)",
}

// ParseReport reads a solver report in comma separated form.  Comment lines
// start with '%'.  The column header is the comment line starting
// "%  GPST" (or "% GPST").  Each row gives one Solution.  If transformer is
// not nil it's used to fill in the local coordinates.
//
// A report without a header is a *SolutionFormatError.  A report with a
// header but no rows gives no solutions and no error.
func ParseReport(r io.Reader, transformer *rdnap.Transformer) ([]Solution, error) {
	scanner := bufio.NewScanner(r)
	lineNumber := 0

	var columns map[string]int
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		if !strings.HasPrefix(line, "%") {
			continue
		}
		text := strings.TrimSpace(strings.TrimPrefix(line, "%"))
		if strings.HasPrefix(text, headerMarker) {
			columns = make(map[string]int)
			for i, name := range strings.Split(text, ",") {
				columns[strings.TrimSpace(name)] = i
			}
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if columns == nil {
		return nil, &SolutionFormatError{Reason: "no " + headerMarker + " header"}
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, &SolutionFormatError{Line: lineNumber, Reason: "no " + name + " column"}
		}
	}

	solutions := make([]Solution, 0)
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		solution, err := parseRow(line, columns)
		if err != nil {
			return nil, &SolutionFormatError{Line: lineNumber, Reason: err.Error()}
		}
		if transformer != nil {
			p, err := transformer.ToLocal(solution.Longitude, solution.Latitude, solution.Height)
			if err == nil {
				solution.Local = &p
			}
		}
		solutions = append(solutions, solution)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return solutions, nil
}

func parseRow(line string, columns map[string]int) (Solution, error) {
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	var solution Solution
	var firstErr error
	field := func(name string) string {
		i := columns[name]
		if i >= len(fields) {
			if firstErr == nil {
				firstErr = fmt.Errorf("no value for %s", name)
			}
			return ""
		}
		return fields[i]
	}
	float := func(name string) float64 {
		s := field(name)
		v, err := strconv.ParseFloat(s, 64)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: bad number %q", name, s)
		}
		return v
	}
	integer := func(name string) int {
		s := field(name)
		v, err := strconv.Atoi(s)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: bad integer %q", name, s)
		}
		return v
	}

	gpst := field("GPST")
	t, err := time.ParseInLocation(reportTimeLayout, gpst, time.UTC)
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("GPST: bad time %q", gpst)
	}
	solution.Time = t
	solution.Latitude = float("latitude(deg)")
	solution.Longitude = float("longitude(deg)")
	solution.Height = float("height(m)")
	solution.Quality = Quality(integer("Q"))
	solution.NumSatellites = integer("ns")
	solution.SDN = float("sdn(m)")
	solution.SDE = float("sde(m)")
	solution.SDU = float("sdu(m)")

	return solution, firstErr
}

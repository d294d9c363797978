package nemweb

import (
	"regexp"

	"github.com/woodid012/plugit/internal/domain/models"
)

// Source binds a report class to its NEMweb directory, filename pattern and
// payload table.
type Source struct {
	Class     models.ReportClass
	Directory string // relative to the Reports/Current base URL
	Pattern   *regexp.Regexp
	Table     string
}

var sources = []Source{
	{
		Class:     models.ClassHistorical,
		Directory: "Dispatch_Reports/",
		Pattern:   regexp.MustCompile(`PUBLIC_DISPATCH_(\d{12})_`),
		Table:     "DREGION",
	},
	{
		Class:     models.ClassFiveMinForecast,
		Directory: "P5_Reports/",
		Pattern:   regexp.MustCompile(`PUBLIC_P5MIN_(\d{12})_`),
		Table:     "P5MIN_REGIONSOLUTION",
	},
	{
		Class:     models.ClassThirtyMinForecast,
		Directory: "Predispatch_Reports/",
		Pattern:   regexp.MustCompile(`PUBLIC_PREDISPATCH_(\d{12})_`),
		Table:     "PDREGION",
	},
}

// Sources lists the three report families in merge priority order.
func Sources() []Source {
	out := make([]Source, len(sources))
	copy(out, sources)
	return out
}

// SourceFor returns the source definition for a class.
func SourceFor(class models.ReportClass) Source {
	for _, s := range sources {
		if s.Class == class {
			return s
		}
	}
	return sources[0]
}

// MatchesClass reports whether a filename belongs to the class's report
// family. The reconciliation engine uses this as the hard provenance gate
// before any historical field write.
func MatchesClass(filename string, class models.ReportClass) bool {
	return SourceFor(class).Pattern.MatchString(filename)
}

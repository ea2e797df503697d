package listsync

import (
	"regexp"
	"strings"
)

// local fallback parser for free-form import text, used when the
// server-side parse is unavailable. one item per line, with two
// optional affixes:
//
//	<section>: <name>        assign to a known section by name
//	<name> : <quantity>      explicit quantity after " : "
//	<count> <name>           leading count shorthand, e.g. "2 lemons"
type ImportItem struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity,omitempty"`
	Notes    string `json:"notes,omitempty"`
	Section  string `json:"section,omitempty"`
}

var leadingCountRe = regexp.MustCompile(`^(\d+)\s+(.+)$`)

func ParseImportLines(text string, sections []*Section) []*ImportItem {
	sectionNames := map[string]string{}
	for _, section := range sections {
		sectionNames[strings.ToLower(section.Name)] = section.Name
	}

	out := []*ImportItem{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}

		name := line
		quantity := ""
		sectionName := ""

		sep := strings.IndexAny(line, ":|")
		if 0 < sep {
			prefix := strings.ToLower(strings.TrimSpace(line[0:sep]))
			if known, ok := sectionNames[prefix]; ok {
				sectionName = known
				name = strings.TrimSpace(line[sep+1:])
			}
		}

		if i := strings.Index(name, " : "); 0 <= i {
			quantity = strings.TrimSpace(name[i+3:])
			name = strings.TrimSpace(name[0:i])
		} else if m := leadingCountRe.FindStringSubmatch(name); m != nil {
			quantity = m[1]
			name = strings.TrimSpace(m[2])
		}

		if name == "" {
			continue
		}
		out = append(out, &ImportItem{
			Name:     name,
			Quantity: quantity,
			Section:  sectionName,
		})
	}
	return out
}

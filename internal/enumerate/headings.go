package enumerate

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	atxHeading = regexp.MustCompile(`^ {0,3}(#{1,6})[ \t]+(.*)$`)
	closingSeq = regexp.MustCompile(`[ \t]+#+[ \t]*$`)
	fenceOpen  = regexp.MustCompile("^ {0,3}(```|~~~)")
)

// Section is one detected subsection of a module's content.
type Section struct {
	Title   string
	Index   int
	Excerpt string
}

type heading struct {
	line  int
	level int
	title string
}

// DetectSections splits content into subsections. It returns nil when the
// content has no headings.
func DetectSections(content string) []Section {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	headings := scanHeadings(lines)
	if len(headings) == 0 {
		return nil
	}

	level := sectionLevel(headings)

	var sections []Section
	taken := make(map[string]bool)
	for i, h := range headings {
		if h.level != level {
			continue
		}
		end := len(lines)
		for _, next := range headings[i+1:] {
			if next.level <= level {
				end = next.line
				break
			}
		}

		title := h.title
		for n := 2; taken[title]; n++ {
			title = fmt.Sprintf("%s (%d)", h.title, n)
		}
		taken[title] = true

		sections = append(sections, Section{
			Title:   title,
			Index:   len(sections),
			Excerpt: strings.TrimSpace(strings.Join(lines[h.line+1:end], "\n")),
		})
	}
	return sections
}

func scanHeadings(lines []string) []heading {
	var out []heading
	var fence string
	for i, line := range lines {
		if m := fenceOpen.FindStringSubmatch(line); m != nil {
			switch {
			case fence == "":
				fence = m[1]
			case fence == m[1]:
				fence = ""
			}
			continue
		}
		if fence != "" {
			continue
		}

		m := atxHeading.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		title := strings.TrimSpace(closingSeq.ReplaceAllString(m[2], ""))
		if title == "" || strings.Trim(title, "#") == "" {
			continue
		}
		out = append(out, heading{line: i, level: len(m[1]), title: title})
	}
	return out
}

// sectionLevel picks the heading level that delimits subsections.
func sectionLevel(headings []heading) int {
	levels := make(map[int]int)
	for _, h := range headings {
		levels[h.level]++
	}

	level := 7
	for l := range levels {
		if l < level {
			level = l
		}
	}

	for levels[level] == 1 {
		next := 7
		for l := range levels {
			if l > level && l < next {
				next = l
			}
		}
		if next == 7 {
			break
		}
		level = next
	}
	return level
}

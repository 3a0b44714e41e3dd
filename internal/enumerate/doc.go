// Package enumerate expands a course's modules into one generation job per
// subsection.
//
// Subsections are delimited by Markdown ATX headings. Within a module the
// shallowest heading level present delimits subsections and deeper headings
// stay inside the excerpt. A lone top-level heading is treated as the
// module's own title and the next level down is used instead. Headings in
// fenced code blocks are ignored.
package enumerate

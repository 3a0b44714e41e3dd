// Package generation defines the boundary between the job queue and the
// external text-generation backend. The queue hands a Generator the job's
// excerpt and opaque context and gets structured subsection content back.
// Backends live under internal/platform (see platform/gemini).
package generation

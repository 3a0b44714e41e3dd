// Package gemini provides an implementation of the generation.Generator
// interface backed by Google's Gemini API.
//
// The generator renders a prompt template with the job's module title,
// subsection title, source excerpt and generation context, asks the model
// for a JSON document, and converts it into domain.GeneratedContent.
//
// Retrying is left to the job queue: the generator makes a single call per
// job attempt and classifies failures as transient (rate limits, server
// errors, timeouts), rejected (safety blocks) or invalid responses.
package gemini

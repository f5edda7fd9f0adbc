// Package spec defines the declarative pipeline manifest and its loader.
//
// A manifest is a YAML document naming the pipeline, its seed artifacts,
// its persistent caches and its ordered phases of stages. Documents are
// checked against an embedded JSON Schema before decoding so authoring
// mistakes surface as a single batch of messages, then structurally
// validated after decoding.
package spec

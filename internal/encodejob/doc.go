// Package encodejob decodes the job descriptors dropped into the waiting
// directory and renders them as the encoding container's argument vector.
//
// Descriptors are JSON objects. YAML is accepted as well for files named
// *.yaml or *.yml, and for content that is not valid JSON syntax.
package encodejob

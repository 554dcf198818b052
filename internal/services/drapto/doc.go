// Package drapto is the in-process encoder backend. It encodes a job's source
// video with the Drapto Go library instead of launching a container, and
// turns Drapto's reporter callbacks into structured log lines.
package drapto

// Package container is the default encoder backend. It pulls the encoding
// image and runs it with the job's video, scratch and result directories
// mounted, capturing the container's stdout and stderr into the result
// directory.
package container

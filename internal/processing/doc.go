// Package processing runs a claimed encoding job end to end: decode the
// descriptor, prepare result and scratch directories, hand the job to an
// encoder backend, write stats.json and deliver the encoded output.
//
// The worker loop only sees the Processor interface. Backends (container,
// drapto) and delivery targets plug in through Encoder and Deliverer.
package processing

// Package jobstore implements the directory state machine behind the job
// queue.
//
// A queue root holds four sibling directories, one per State. A job is a
// file whose base name stays constant while it moves between them:
// producers drop it into waiting, a worker renames it into running as
// "<worker>.<name>", and the worker's handle finally moves it to done or
// failed. The Store keeps no cache; every call re-reads storage because other
// processes mutate the tree concurrently and the backing mount may lag.
//
// Moves distinguish a vanished source (ErrVanished, another actor got there
// first) from every other failure (ErrStorage). Coordination between workers
// lives in package claim; this package has no concurrency logic of its own.
package jobstore

// Package delivery ships a finished job's scratch directory to its final
// destination: an SFTP server, an sshfs-mounted directory, or nowhere, in
// which case the scratch directory is removed unless keep_tmp is set.
package delivery

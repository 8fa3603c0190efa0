// Package sources resolves where a plan document is read from: a local
// file, standard input, or a remote host over SFTP.
package sources

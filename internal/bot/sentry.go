package bot

import "crypto/sha1"

// sha1Sum computes the digest the sentry-file update handler replies
// with, over the whole file.
func sha1Sum(data []byte) []byte {
	sum := sha1.Sum(data)
	return sum[:]
}

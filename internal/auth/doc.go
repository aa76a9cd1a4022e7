// Package auth implements HTTP Basic authentication with PBKDF2-SHA256
// password hashes and per-IP throttling of failed attempts.
package auth

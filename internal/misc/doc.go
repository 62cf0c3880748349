// Package misc holds small helpers shared by the OAuth login flow and the secret
// stores: CSRF state generation, callback URL parsing, credential logging and the
// example config writer.
package misc
